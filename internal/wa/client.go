package wa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// ErrDeviceMissing is returned when a persisted device is absent from the store.
var ErrDeviceMissing = errors.New("wa: device not found in store")

// Device is one linked WhatsApp device.
type Device interface {
	// ID is the device JID, empty until paired.
	ID() string
	Connect() error
	Disconnect()
	IsConnected() bool
	// PairingCodes must be requested before Connect on an unpaired device.
	PairingCodes(ctx context.Context) (<-chan PairEvent, error)
	SendText(ctx context.Context, to types.JID, text string) error
	SetEventHandler(h func(evt any))
}

// DeviceStore creates and restores devices.
type DeviceStore interface {
	New(ctx context.Context) (Device, error)
	Restore(ctx context.Context, jid string) (Device, error)
}

// PairEvent is one step of the QR pairing flow. Event is "code", "success", "timeout" or an error name.
type PairEvent struct {
	Event string `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// StoreConfig holds configuration of the whatsmeow device store.
type StoreConfig struct {
	Path     string
	LogLevel string
}

// SQLStore keeps every tenant's device keys in one whatsmeow SQLite container.
type SQLStore struct {
	container *sqlstore.Container
	logLevel  string
}

// OpenStore opens the whatsmeow device store backed by SQLite.
func OpenStore(ctx context.Context, cfg StoreConfig) (*SQLStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("store path is required")
	}
	if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.Path), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}
	return &SQLStore{container: container, logLevel: cfg.LogLevel}, nil
}

// New creates an unpaired device.
func (s *SQLStore) New(_ context.Context) (Device, error) {
	return s.wrap(s.container.NewDevice()), nil
}

// Restore loads a previously paired device.
func (s *SQLStore) Restore(ctx context.Context, jid string) (Device, error) {
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return nil, fmt.Errorf("parse device jid: %w", err)
	}
	dev, err := s.container.GetDevice(ctx, parsed)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if dev == nil {
		return nil, ErrDeviceMissing
	}
	return s.wrap(dev), nil
}

func (s *SQLStore) wrap(dev *store.Device) *client {
	return &client{wm: whatsmeow.NewClient(dev, waLog.Stdout("whatsmeow/client", s.logLevel, true))}
}

// client adapts a whatsmeow client to Device.
type client struct {
	wm *whatsmeow.Client
}

func (c *client) ID() string {
	if c.wm.Store.ID == nil {
		return ""
	}
	return c.wm.Store.ID.String()
}

func (c *client) Connect() error {
	if err := c.wm.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}
	return nil
}

func (c *client) Disconnect() { c.wm.Disconnect() }

func (c *client) IsConnected() bool { return c.wm.IsConnected() }

func (c *client) SetEventHandler(h func(evt any)) {
	c.wm.AddEventHandler(h)
}

func (c *client) PairingCodes(ctx context.Context) (<-chan PairEvent, error) {
	qrChan, err := c.wm.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get qr channel: %w", err)
	}
	out := make(chan PairEvent, 8)
	go func() {
		defer close(out)
		for item := range qrChan {
			ev := PairEvent{Event: item.Event, Code: item.Code}
			if item.Error != nil {
				ev.Error = item.Error.Error()
			}
			select {
			case out <- ev:
			default:
			}
		}
	}()
	return out, nil
}

func (c *client) SendText(ctx context.Context, to types.JID, text string) error {
	message := &waProto.Message{Conversation: proto.String(text)}
	if _, err := c.wm.SendMessage(ctx, to, message); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// messageText returns the readable text of an inbound message and its kind.
func messageText(msg *waProto.Message) (string, string) {
	switch {
	case msg == nil:
		return "", "empty"
	case msg.GetConversation() != "":
		return msg.GetConversation(), "text"
	case msg.ExtendedTextMessage != nil:
		return msg.GetExtendedTextMessage().GetText(), "text"
	case msg.ImageMessage != nil:
		return msg.GetImageMessage().GetCaption(), "image"
	case msg.VideoMessage != nil:
		return msg.GetVideoMessage().GetCaption(), "video"
	case msg.AudioMessage != nil:
		return "", "audio"
	default:
		return "", "unsupported"
	}
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
