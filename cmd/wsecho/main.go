// Command wsecho runs a minimal echo server on top of the non-blocking
// WebSocket core: every inbound message is sent straight back to its
// sender, and every connect/disconnect is logged.
package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/coregx/wsengine/eventloop"
	"github.com/coregx/wsengine/websocket"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	deflate := flag.Bool("deflate", true, "advertise permessage-deflate support")
	maxPayload := flag.Int("max-payload", 32<<20, "maximum assembled message size in bytes")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	loop, err := eventloop.NewEpoll()
	if err != nil {
		log.Fatal().Err(err).Msg("create event loop")
	}

	srv := websocket.NewServer(loop, websocket.Config{
		UpgradeOptions: websocket.UpgradeOptions{
			DeflateSupported: *deflate,
		},
		MaxMessagePayload:      *maxPayload,
		DeflateContextTakeover: true,
		Logger:                 log,
	})

	srv.OnMessage(func(c *websocket.Connection, msgType websocket.MessageType, payload []byte) {
		if err := c.Send(msgType, payload); err != nil {
			log.Warn().Err(err).Uint64("conn_id", c.ID()).Msg("echo send failed")
		}
	})
	srv.OnDisconnect(func(c *websocket.Connection, closeErr *websocket.CloseError) {
		log.Info().Uint64("conn_id", c.ID()).Int("code", int(closeErr.Code)).Err(closeErr).Msg("disconnected")
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := srv.Accept(w, r)
		if err != nil {
			log.Warn().Err(err).Msg("upgrade failed")
			return
		}
		event := log.Info().Uint64("conn_id", conn.ID())
		if ip, port, family, ok := conn.Address(); ok {
			event = event.Str("ip", ip).Int("port", port).Str("family", family)
		}
		event.Msg("connected")
	})

	httpSrv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	log.Info().Str("addr", *addr).Msg("wsecho listening")
	if err := loop.Run(); err != nil {
		log.Fatal().Err(err).Msg("event loop exited")
	}
}
