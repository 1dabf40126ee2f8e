//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollBackend is the Linux reactor driver backend (C5), grounded on
// tnet's poller_epoll.go newPoller/Control/epollWait/epollCtl.
type epollBackend struct {
	epfd      int
	maxEvents int
}

func openBackend(maxEventsPerWait int) (backend, error) {
	// EPOLL_CLOEXEC for consistency with the Go runtime's own netpoller,
	// per tnet poller_epoll.go's comment on EpollCreate1.
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, wrapError(KindInternal, err, "epoll_create1")
	}
	if maxEventsPerWait <= 0 {
		maxEventsPerWait = maxEventsPerWaitDefault
	}
	return &epollBackend{epfd: fd, maxEvents: maxEventsPerWait}, nil
}

// epollEvents translates an Interest into an epoll event mask. Error
// and hangup delivery is always requested from the kernel regardless
// of Interest.WantError — spec.md §4.5 step 3c requires the driver to
// be able to observe them even when the caller only asked for
// readable/writable; WantError instead gates whether the ERROR
// callback is invoked.
func epollEvents(in Interest) uint32 {
	var ev uint32
	if in.WantReadable() {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in.WantWritable() {
		ev |= unix.EPOLLOUT
	}
	if in.WantNotifications() {
		ev |= unix.EPOLLPRI
	}
	ev |= unix.EPOLLERR | unix.EPOLLHUP
	if in.Trigger() == TriggerEdge {
		ev |= unix.EPOLLET
	}
	if in.OneShot() {
		ev |= unix.EPOLLONESHOT
	}
	return ev
}

func (b *epollBackend) add(h Handle, in Interest) error {
	ev := &unix.EpollEvent{Events: epollEvents(in), Fd: int32(h)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, int(h), ev); err != nil {
		return wrapError(KindInternal, err, "epoll_ctl add")
	}
	return nil
}

func (b *epollBackend) modify(h Handle, in Interest) error {
	ev := &unix.EpollEvent{Events: epollEvents(in), Fd: int32(h)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, int(h), ev); err != nil {
		return wrapError(KindInternal, err, "epoll_ctl mod")
	}
	return nil
}

func (b *epollBackend) remove(h Handle) error {
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, int(h), &unix.EpollEvent{}); err != nil {
		return wrapError(KindInternal, err, "epoll_ctl del")
	}
	return nil
}

func (b *epollBackend) wait(dst []rawEvent, timeout time.Duration) ([]rawEvent, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}
	buf := make([]unix.EpollEvent, b.maxEvents)
	n, err := unix.EpollWait(b.epfd, buf, msec)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, wrapError(KindInternal, err, "epoll_wait")
	}
	for i := 0; i < n; i++ {
		e := buf[i]
		// readable also covers EPOLLRDHUP so that a half-closed peer is
		// still dispatched through the readable path, per spec.md §4.5
		// step 3d ("combined with hangup").
		dst = append(dst, rawEvent{
			handle:        Handle(e.Fd),
			readable:      e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			writable:      e.Events&unix.EPOLLOUT != 0,
			errored:       e.Events&unix.EPOLLERR != 0,
			hangup:        e.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
			notifications: e.Events&unix.EPOLLPRI != 0,
		})
	}
	return dst, nil
}

func (b *epollBackend) close() error {
	return wrapError(KindInternal, unix.Close(b.epfd), "close")
}
