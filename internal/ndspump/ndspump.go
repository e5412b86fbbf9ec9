// Package ndspump implements the NDS (captive-portal) event pump
// (spec.md §4.5, C9): a non-blocking FIFO reader that turns
// captive-portal event lines into a JSON array and publishes it to
// the accounting topic and, if a site id is known, the site's client
// topic.
package ndspump

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"wayru-agent/internal/devicemodel"
)

// readChunkSize is the per-tick read budget (spec.md §4.5: "up to 512
// bytes per tick").
const readChunkSize = 512

// Publisher is the subset of the MQTT client this pump needs.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte)
}

// Pump reads the NDS FIFO and publishes batched events.
type Pump struct {
	logger     *slog.Logger
	fifoPath   string
	gatewayMAC string
	contexts   *devicemodel.ContextStore
	publisher  Publisher

	file *os.File
}

// New opens the FIFO read-only, non-blocking, once at startup. Mode
// and path are owned by an external collaborator (spec.md §6: mode
// 0666); this only opens for reading.
func New(logger *slog.Logger, fifoPath, gatewayMAC string, contexts *devicemodel.ContextStore, publisher Publisher) (*Pump, error) {
	fd, err := syscall.Open(fifoPath, syscall.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("opening NDS FIFO %s: %w", fifoPath, err)
	}
	f := os.NewFile(uintptr(fd), fifoPath)
	return &Pump{
		logger:     logger,
		fifoPath:   fifoPath,
		gatewayMAC: gatewayMAC,
		contexts:   contexts,
		publisher:  publisher,
		file:       f,
	}, nil
}

// Close releases the FIFO file descriptor. Intended as a shutdown
// registry cleanup.
func (p *Pump) Close() error {
	if p.file == nil {
		return nil
	}
	return p.file.Close()
}

// Tick performs one read-and-publish cycle: a non-blocking read of up
// to readChunkSize bytes, split on newline, each line annotated with
// the gateway MAC, all buffered into one JSON array published to
// accounting/nds and, if known, site/<site_id>/clients. EAGAIN and a
// zero-byte read are normal idle outcomes, not errors.
func (p *Pump) Tick(ctx context.Context) {
	buf := make([]byte, readChunkSize)
	rc, err := p.file.SyscallConn()
	if err != nil {
		p.logger.Warn("NDS FIFO read error", "error", err)
		return
	}
	// A single raw read(2): os.File.Read on this pollable fd would park
	// until data arrives instead of returning EAGAIN.
	var n int
	if cerr := rc.Read(func(fd uintptr) bool {
		n, err = syscall.Read(int(fd), buf)
		return true
	}); cerr != nil {
		err = cerr
	}
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			return
		}
		p.logger.Warn("NDS FIFO read error", "error", err)
		return
	}
	if n <= 0 {
		return
	}

	lines := strings.Split(strings.TrimRight(string(buf[:n]), "\n"), "\n")
	events := make([]map[string]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		events = append(events, map[string]string{
			"line":        line,
			"gateway_mac": p.gatewayMAC,
		})
	}
	if len(events) == 0 {
		return
	}

	payload, err := json.Marshal(events)
	if err != nil {
		p.logger.Error("marshaling NDS events", "error", err)
		return
	}

	p.publisher.Publish("accounting/nds", 1, payload)

	siteID := p.contexts.Get().SiteID
	if siteID != "" {
		p.publisher.Publish(fmt.Sprintf("site/%s/clients", siteID), 1, payload)
	}
}
