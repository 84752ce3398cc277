// Command feedsim serves a stream of random option trades over WebSocket for
// local runs against optionflow.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"optionflow/internal/wire"
	"optionflow/logger"
)

const component = "feedsim"

type simulator struct {
	encoding   wire.Encoding
	positional bool
	interval   time.Duration
	log        *logger.Log
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	Subprotocols:    []string{string(wire.EncodingMsgpack), string(wire.EncodingJSON)},
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *simulator) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithComponent(component).WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	enc := s.encoding
	if proto := conn.Subprotocol(); proto != "" {
		if parsed, err := wire.ParseEncoding(proto); err == nil {
			enc = parsed
		}
	}

	log := s.log.WithComponent(component).WithFields(logger.Fields{
		"remote":   r.RemoteAddr,
		"encoding": string(enc),
	})
	log.Info("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// gorilla answers ping control frames itself; the JSON heartbeat is a
	// text message and is answered here
	replies := make(chan []byte, 4)
	go func() {
		defer cancel()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := wire.Parse(data, mt == websocket.BinaryMessage, enc)
			if err != nil || msg.Kind != wire.MessagePing {
				continue
			}
			select {
			case replies <- wire.ControlFrame(wire.MessagePong):
			default:
			}
		}
	}()

	gen := newGenerator(time.Now().UnixNano(), nil)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			log.WithFields(logger.Fields{"sent": sent}).Info("client disconnected")
			return
		case reply := <-replies:
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		case <-ticker.C:
			data, err := wire.Marshal(gen.frame(s.positional || enc == wire.EncodingMsgpack), enc)
			if err != nil {
				log.WithError(err).Error("failed to encode trade")
				continue
			}
			mt := websocket.TextMessage
			if enc == wire.EncodingMsgpack {
				mt = websocket.BinaryMessage
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
			sent++
		}
	}
}

func main() {
	log := logger.GetLogger()

	addr := flag.String("addr", ":8090", "listen address")
	path := flag.String("path", "/trades", "websocket path")
	rate := flag.Float64("rate", 10, "trades per second per client")
	encoding := flag.String("encoding", "json", "default encoding when the client requests none (json|msgpack)")
	positional := flag.Bool("positional", false, "send JSON trades as positional arrays")
	flag.Parse()

	enc, err := wire.ParseEncoding(*encoding)
	if err != nil {
		log.WithError(err).Error("invalid encoding")
		os.Exit(1)
	}
	if *rate <= 0 {
		log.Error("rate must be greater than 0")
		os.Exit(1)
	}

	sim := &simulator{
		encoding:   enc,
		positional: *positional,
		interval:   time.Duration(float64(time.Second) / *rate),
		log:        log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(*path, sim.serve)
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.WithComponent(component).WithFields(logger.Fields{"addr": *addr, "path": *path}).Info("feed simulator listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithComponent(component).WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithComponent(component).WithError(err).Warn("shutdown incomplete")
	}
}
