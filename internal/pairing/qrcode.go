// Package pairing renders the bridge address as a QR code so a phone can
// connect without typing it.
package pairing

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/skip2/go-qrcode"
)

// Info is the payload encoded in the QR code.
type Info struct {
	WebSocket string `json:"ws"`
	HTTP      string `json:"http"`
	Host      string `json:"host,omitempty"`
}

// QRGenerator builds pairing QR codes for one listen address.
type QRGenerator struct {
	host        string
	port        int
	externalURL string
	// fixed is served as-is when set, e.g. info fetched from a running server.
	fixed *Info
}

// NewQRGenerator creates a generator for host:port.
func NewQRGenerator(host string, port int) *QRGenerator {
	return &QRGenerator{host: host, port: port}
}

// NewQRGeneratorFromInfo creates a generator that always encodes info.
func NewQRGeneratorFromInfo(info Info) *QRGenerator {
	return &QRGenerator{fixed: &info}
}

// SetExternalURL overrides the advertised base URL, e.g. behind a tunnel
// or port forward. The WebSocket URL is derived from it.
func (g *QRGenerator) SetExternalURL(url string) {
	g.externalURL = strings.TrimRight(url, "/")
}

// Info returns the pairing payload.
func (g *QRGenerator) Info() Info {
	if g.fixed != nil {
		return *g.fixed
	}
	hostname, _ := os.Hostname()

	if g.externalURL != "" {
		ws := g.externalURL
		switch {
		case strings.HasPrefix(ws, "https://"):
			ws = "wss://" + strings.TrimPrefix(ws, "https://")
		case strings.HasPrefix(ws, "http://"):
			ws = "ws://" + strings.TrimPrefix(ws, "http://")
		}
		return Info{WebSocket: ws + "/ws", HTTP: g.externalURL, Host: hostname}
	}

	base := fmt.Sprintf("%s:%d", g.host, g.port)
	return Info{
		WebSocket: "ws://" + base + "/ws",
		HTTP:      "http://" + base,
		Host:      hostname,
	}
}

// JSON returns the pairing payload as JSON.
func (g *QRGenerator) JSON() (string, error) {
	data, err := json.Marshal(g.Info())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Terminal renders the QR code with half-block characters.
func (g *QRGenerator) Terminal() (string, error) {
	payload, err := g.JSON()
	if err != nil {
		return "", err
	}
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

// PNG renders the QR code as a PNG image of size pixels.
func (g *QRGenerator) PNG(size int) ([]byte, error) {
	payload, err := g.JSON()
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}

// Print writes the QR code and the URL to w.
func (g *QRGenerator) Print(w io.Writer) error {
	qr, err := g.Terminal()
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Scan to connect:")
	fmt.Fprintln(w)
	for _, line := range strings.Split(qr, "\n") {
		if line != "" {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	fmt.Fprintf(w, "\n  %s\n\n", g.Info().WebSocket)
	return nil
}
