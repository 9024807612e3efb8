package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/scrcpy-core/adbcore/config"
	"github.com/scrcpy-core/adbcore/internal/decoder"
	"github.com/scrcpy-core/adbcore/internal/mirror"
	"github.com/scrcpy-core/adbcore/internal/scrcpyproto"
)

type serveOptions struct {
	addr   string
	keyDir string
}

// NewServeCommand builds "adbcore serve": a local HTTP server whose
// /ws endpoint bridges a mirror.Session's event stream to a websocket
// client, one session per connection.
func NewServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local websocket relay for mirror session events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8643", "address to listen on")
	flags.StringVar(&opts.keyDir, "key-dir", config.GetKeyDir(), "directory holding the ADB keypair")

	return cmd
}

func runServe(opts *serveOptions) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleRelay(w, r, opts)
	})

	fmt.Printf("listening on %s\n", opts.addr)
	return http.ListenAndServe(opts.addr, mux)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connectRequest is the first message a client sends: the device
// endpoint to dial and the three scrcpy destinations the server
// already opened on the device side.
type connectRequest struct {
	Endpoint    string `json:"endpoint"`
	VideoDest   string `json:"video_dest"`
	AudioDest   string `json:"audio_dest"`
	ControlDest string `json:"control_dest"`
}

type relayEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func handleRelay(w http.ResponseWriter, r *http.Request, opts *serveOptions) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("serve: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var req connectRequest
	if err := conn.ReadJSON(&req); err != nil {
		log.Printf("serve: read connect request: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session, err := mirror.Open(ctx, req.Endpoint, opts.keyDir, func() {
		_ = conn.WriteJSON(relayEvent{Type: "waiting_auth"})
	})
	if err != nil {
		_ = conn.WriteJSON(relayEvent{Type: "error", Data: json.RawMessage(`"` + err.Error() + `"`)})
		return
	}
	defer session.Close()

	sink := make(chan mirror.Event, 64)
	if err := session.StartStreams(mirror.StreamConfig{
		VideoDest:   req.VideoDest,
		AudioDest:   req.AudioDest,
		ControlDest: req.ControlDest,
		VideoDecoder: &nullDecoder{},
		AudioDecoder: &nullDecoder{},
	}, sink); err != nil {
		_ = conn.WriteJSON(relayEvent{Type: "error", Data: json.RawMessage(`"` + err.Error() + `"`)})
		return
	}
	defer session.StopStreams()

	go relayInbound(conn, session)

	for ev := range sink {
		if err := conn.WriteJSON(relayEvent{Type: ev.Type, Data: ev.Data}); err != nil {
			log.Printf("serve: write event: %v", err)
			return
		}
	}
}

// relayInbound forwards control-send messages from the websocket
// client onto the device's control stream until the socket closes.
func relayInbound(conn *websocket.Conn, session *mirror.Session) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := session.SendControl(payload); err != nil {
			log.Printf("serve: send control: %v", err)
		}
	}
}

// nullDecoder is the relay's placeholder Decoder: it accepts every
// frame without ever rendering it, since the relay's job is forwarding
// wire events to a browser-side decoder, not decoding locally.
type nullDecoder struct{}

func (nullDecoder) Init(cfg decoder.Config) error { return nil }
func (nullDecoder) Start() error                  { return nil }
func (nullDecoder) AcquireInput(timeout time.Duration) (*decoder.InputBuffer, error) {
	return &decoder.InputBuffer{Data: make([]byte, scrcpyproto.MaxFrameSize)}, nil
}
func (nullDecoder) SubmitInput(buf *decoder.InputBuffer, pts uint64, size int, flags uint32) error {
	return nil
}
func (nullDecoder) Stop() error { return nil }
