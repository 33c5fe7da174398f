package services

import (
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

func (a *Api) WsUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// Notifications streams generation events for one client id until the socket closes.
func (a *Api) Notifications() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {

		clientId := strings.TrimSpace(conn.Params("id"))
		if clientId == "" {
			conn.WriteMessage(websocket.CloseMessage, []byte("missing clientId"))
			conn.Close()
			return
		}

		client := &WSClient{
			id:   clientId,
			conn: conn,
			send: make(chan []byte, 16),
		}
		a.hub.Add(client)
		log.Debug("websocket connected", "component", "ws", "clientId", clientId)

		go client.writeLoop()
		client.readPump(func() {
			a.hub.Remove(client)
			log.Debug("websocket closed", "component", "ws", "clientId", clientId)
		})
	})
}
