package ws

import (
	"context"
	"errors"
	"sync"

	"studybuddy/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageHub interface {
	Join(userID string) chan models.ServerEvent
	Leave(userID string, ch chan models.ServerEvent)
}

type dispatcher interface {
	SendMessage(ctx context.Context, senderID string, p models.SendMessagePayload) models.SendAck
	MarkRead(ctx context.Context, userID string, p models.MarkReadPayload)
	BulkDelete(ctx context.Context, userID string, p models.BulkDeletePayload) *models.ServerEvent
	RelayUnread(userID string, p models.UnreadUpdatePayload)
}

// Connection binds one websocket to the user's hub channel and runs the
// protocol: client frames are decoded, validated and dispatched to the
// coordinator; hub events and direct replies are written back out.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	coord      dispatcher
	userID     string
	fromClient chan models.ClientEvent
	fromServer chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	coord dispatcher,
	ws wsConnection,
	userID string,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		coord:      coord,
		userID:     userID,
		fromClient: make(chan models.ClientEvent),
		fromServer: hub.Join(userID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.userID, c.fromServer)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// mainLoop is the single writer for this connection: both direct
// replies from handlers and fan-out events from the hub funnel through
// it, so no two goroutines ever write the websocket concurrently.
func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			if err := c.processClientEvent(ctx, ev); err != nil {
				return err
			}
		case ev, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientEvent(ctx context.Context, ev models.ClientEvent) error {
	payload, err := ev.DecodePayload()
	if err != nil {
		if ev.Event == models.ClientEventSend && ev.AckID != 0 {
			return c.ws.WriteJSON(models.AckEvent(ev.AckID, models.SendAck{OK: false, Error: err.Error()}))
		}
		return c.ws.WriteJSON(models.ErrorEvent(err.Error()))
	}

	switch p := payload.(type) {
	case *models.SendMessagePayload:
		ack := c.coord.SendMessage(ctx, c.userID, *p)
		return c.ws.WriteJSON(models.AckEvent(ev.AckID, ack))
	case *models.MarkReadPayload:
		c.coord.MarkRead(ctx, c.userID, *p)
	case *models.BulkDeletePayload:
		if errEv := c.coord.BulkDelete(ctx, c.userID, *p); errEv != nil {
			return c.ws.WriteJSON(*errEv)
		}
	case *models.UnreadUpdatePayload:
		c.coord.RelayUnread(c.userID, *p)
	}

	return nil
}
