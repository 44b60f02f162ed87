package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/godbus/dbus/v5"
)

const (
	notificationsDest   = "org.freedesktop.Notifications"
	notificationsPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsNotify = "org.freedesktop.Notifications.Notify"

	portalDest    = "org.freedesktop.portal.Desktop"
	portalPath    = dbus.ObjectPath("/org/freedesktop/portal/desktop")
	portalOpenURI = "org.freedesktop.portal.OpenURI.OpenURI"

	appName = "campaign_watch"
)

// ErrClipboardUnsupported is returned when no clipboard utility is installed.
var ErrClipboardUnsupported = errors.New("clipboard unsupported")

// busObject is the subset of dbus.BusObject used here.
type busObject interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// DesktopSink shows alerts through the freedesktop notification service.
type DesktopSink struct {
	obj       busObject
	timeoutMs int32
}

// NewDesktopSink connects to the session bus.
func NewDesktopSink() (*DesktopSink, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return newDesktopSink(conn.Object(notificationsDest, notificationsPath)), nil
}

func newDesktopSink(obj busObject) *DesktopSink {
	return &DesktopSink{obj: obj, timeoutMs: -1}
}

// Alert posts a desktop notification.
func (s *DesktopSink) Alert(ctx context.Context, alert Alert) error {
	hints := map[string]dbus.Variant{}
	if alert.URL != "" {
		hints["x-campaign-url"] = dbus.MakeVariant(alert.URL)
	}
	call := s.obj.CallWithContext(ctx, notificationsNotify, 0,
		appName,
		uint32(0),
		"",
		alert.Title,
		alert.Body,
		[]string{},
		hints,
		s.timeoutMs,
	)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	return nil
}

// PortalOpener opens URLs through the desktop portal, which hands them to
// the user's default browser.
type PortalOpener struct {
	obj busObject
}

// NewPortalOpener connects to the session bus.
func NewPortalOpener() (*PortalOpener, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &PortalOpener{obj: conn.Object(portalDest, portalPath)}, nil
}

// Open asks the portal to open url.
func (o *PortalOpener) Open(ctx context.Context, url string) error {
	call := o.obj.CallWithContext(ctx, portalOpenURI, 0, "", url, map[string]dbus.Variant{})
	if call.Err != nil {
		return fmt.Errorf("open uri: %w", call.Err)
	}
	return nil
}

// SystemClipboard writes to the host clipboard.
type SystemClipboard struct{}

// Copy replaces the clipboard contents with text.
func (SystemClipboard) Copy(text string) error {
	if clipboard.Unsupported {
		return ErrClipboardUnsupported
	}
	return clipboard.WriteAll(text)
}
