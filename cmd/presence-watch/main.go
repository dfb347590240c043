// Command presence-watch joins a note room and prints every presence and
// cursor event it receives. Handy for poking at a running server.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/scribly/presence/internal/client"
	"github.com/scribly/presence/internal/wire"
)

func main() {
	addr := flag.String("addr", "ws://127.0.0.1:2137/ws", "websocket address of the presence server")
	noteID := flag.String("note", "note-1", "note to join")
	userID := flag.String("user", "watcher", "user id to announce")
	name := flag.String("name", "Watcher", "display name to announce")
	token := flag.String("token", "", "presence token (optional)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.NewClient(*addr, *token)
	c.OnPresence = func(users []wire.RoomUser) {
		log.Println("room members:")
		for _, u := range users {
			log.Printf("  %s (%s)", u.Name, u.UserID)
		}
	}
	c.OnCursor = func(cur wire.Cursor) {
		log.Printf("cursor %s -> %v", cur.UserID, cur.Position)
	}
	c.OnDisconnect = func(err error) {
		log.Println("connection lost:", err)
		go func() {
			if err := client.Redial(ctx, c, *noteID, wire.User{ID: *userID, Name: *name}); err != nil {
				log.Println("redial:", err)
			}
		}()
	}

	if err := client.Redial(ctx, c, *noteID, wire.User{ID: *userID, Name: *name}); err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	<-ctx.Done()
	log.Println("bye")
}
