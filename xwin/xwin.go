// Package xwin manages the host's top-level X11 window through the pure
// Go X protocol binding. The window embeds the plugin's own widget; the
// host only maps it, relays close requests, resizes on the UI's behalf
// and routes drag-and-drop at the plugin widget.
package xwin

import (
	"encoding/binary"
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// dndVersion is the Xdnd protocol version advertised on the host window.
const dndVersion = 5

// Window is one top-level X11 window plus the atoms the host needs.
type Window struct {
	conn *xgb.Conn
	win  xproto.Window
	root xproto.Window

	wmProtocols xproto.Atom
	wmDelete    xproto.Atom
	xdndAware   xproto.Atom
	xdndProxy   xproto.Atom
}

// Create opens the display and maps a top-level window of the given size
// with the close-request protocol and Xdnd awareness set up.
func Create(title string, width, height uint16) (*Window, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to open X display: %w", err)
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	wid, err := xproto.NewWindowId(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to allocate window id: %w", err)
	}

	err = xproto.CreateWindowChecked(conn, screen.RootDepth, wid, screen.Root,
		100, 100, width, height, 0,
		xproto.WindowClassInputOutput, screen.RootVisual,
		xproto.CwEventMask, []uint32{xproto.EventMaskStructureNotify}).Check()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	w := &Window{conn: conn, win: wid, root: screen.Root}
	for _, a := range []struct {
		name string
		dst  *xproto.Atom
	}{
		{"WM_PROTOCOLS", &w.wmProtocols},
		{"WM_DELETE_WINDOW", &w.wmDelete},
		{"XdndAware", &w.xdndAware},
		{"XdndProxy", &w.xdndProxy},
	} {
		reply, err := xproto.InternAtom(conn, false, uint16(len(a.name)), a.name).Reply()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to intern %s: %w", a.name, err)
		}
		*a.dst = reply.Atom
	}

	xproto.ChangeProperty(conn, xproto.PropModeReplace, wid, w.wmProtocols,
		xproto.AtomAtom, 32, 1, atomBytes(w.wmDelete))
	xproto.ChangeProperty(conn, xproto.PropModeReplace, wid, w.xdndAware,
		xproto.AtomAtom, 32, 1, atomBytes(xproto.Atom(dndVersion)))

	w.SetTitle(title)
	xproto.MapWindow(conn, wid)
	return w, nil
}

// ID returns the X window id, passed to the plugin UI as its parent.
func (w *Window) ID() uint32 { return uint32(w.win) }

// SetTitle names the window.
func (w *Window) SetTitle(title string) {
	if w.conn == nil {
		return
	}
	xproto.ChangeProperty(w.conn, xproto.PropModeReplace, w.win,
		xproto.AtomWmName, xproto.AtomString, 8, uint32(len(title)), []byte(title))
}

// Resize changes the window geometry on the plugin UI's behalf and
// reports success.
func (w *Window) Resize(width, height int) bool {
	if w.conn == nil || width <= 0 || height <= 0 {
		return false
	}
	err := xproto.ConfigureWindowChecked(w.conn, w.win,
		xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
		[]uint32{uint32(width), uint32(height)}).Check()
	return err == nil
}

// CloseRequested drains pending X events and reports whether the window
// manager delivered a close request.
func (w *Window) CloseRequested() bool {
	if w.conn == nil {
		return false
	}
	for {
		ev, err := w.conn.PollForEvent()
		if ev == nil && err == nil {
			return false
		}
		if err != nil {
			continue
		}
		if cm, ok := ev.(xproto.ClientMessageEvent); ok {
			if xproto.Atom(cm.Type) == w.wmProtocols &&
				len(cm.Data.Data32) > 0 &&
				cm.Data.Data32[0] == uint32(w.wmDelete) {
				return true
			}
		}
	}
}

// SetDndProxy routes drop events to the plugin's widget: the XdndProxy
// property is written on the widget and each ancestor up to the root, so
// drops landing anywhere over the embedded UI reach the plugin.
func (w *Window) SetDndProxy(widget uint32) {
	if w.conn == nil || widget == 0 {
		return
	}
	prop := atomBytes(xproto.Atom(widget))
	win := xproto.Window(widget)
	for win != 0 {
		xproto.ChangeProperty(w.conn, xproto.PropModeReplace, win,
			w.xdndProxy, xproto.AtomWindow, 32, 1, prop)
		tree, err := xproto.QueryTree(w.conn, win).Reply()
		if err != nil {
			return
		}
		if tree.Parent == tree.Root || tree.Parent == 0 {
			return
		}
		win = tree.Parent
	}
}

// Close destroys the window and the display connection. Idempotent.
func (w *Window) Close() {
	if w.conn == nil {
		return
	}
	xproto.DestroyWindow(w.conn, w.win)
	w.conn.Close()
	w.conn = nil
}

func atomBytes(a xproto.Atom) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(a))
	return b[:]
}
