package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/taskwire/taskwire/pkg/protocol"
)

// Events holds optional callbacks for server-pushed notifications. Nil
// callbacks are skipped.
type Events struct {
	OnUserJoined  func(userID string)
	OnUserLeft    func(userID string)
	OnUserEditing func(userID, taskID string)
	OnConflict    func(taskID, userID string)
	OnError       func(message string)
}

// Client is one live session against the server. Task state flows into the
// embedded Coordinator; mutations are optimistic and roll back when the
// server reports failure. There is no automatic retry: a failed mutation is
// surfaced to the caller for user-initiated re-submission.
type Client struct {
	conn   *websocket.Conn
	coord  *Coordinator
	events Events
	logger *slog.Logger
	userID string

	seq     atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan protocol.Frame

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	tempSeq atomic.Uint64
}

// Dial connects, identifies, and starts the read loop. The token is the
// session token issued at login.
func Dial(ctx context.Context, url, token, userID string, events Events, logger *slog.Logger) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial server: %w", err)
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		coord:   NewCoordinator(),
		events:  events,
		logger:  logger.With(slog.String("component", "client"), slog.String("userID", userID)),
		userID:  userID,
		pending: make(map[uint64]chan protocol.Frame),
		ctx:     clientCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.readLoop()

	if err := c.send(protocol.EventIdentify, 0, protocol.Identify{UserID: userID}); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Coordinator exposes the client's task view.
func (c *Client) Coordinator() *Coordinator {
	return c.coord
}

func (c *Client) Close() error {
	c.cancel()
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	<-c.done
	return err
}

// Done is closed once the read loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) send(event string, seq uint64, payload any) error {
	frame, err := protocol.Encode(event, seq, payload)
	if err != nil {
		return err
	}
	return c.conn.Write(c.ctx, websocket.MessageText, frame)
}

// call sends an event with an acknowledgment request and waits for the ack.
func (c *Client) call(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	seq := c.seq.Add(1)
	ch := make(chan protocol.Frame, 1)
	c.mu.Lock()
	c.pending[seq] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	if err := c.send(event, seq, payload); err != nil {
		return nil, err
	}

	select {
	case frame := <-ch:
		return frame.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, fmt.Errorf("connection closed")
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, raw, err := c.conn.Read(c.ctx)
		if err != nil {
			c.logger.Debug("Read loop terminated", slog.Any("error", err))
			return
		}
		var frame protocol.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("Dropping malformed server frame", slog.Any("error", err))
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame protocol.Frame) {
	switch frame.Event {
	case protocol.EventAck:
		c.mu.Lock()
		ch, ok := c.pending[frame.Seq]
		c.mu.Unlock()
		if ok {
			ch <- frame
		}
	case protocol.EventTaskCreated, protocol.EventTaskUpdated:
		var task protocol.Task
		if err := json.Unmarshal(frame.Payload, &task); err != nil {
			c.logger.Warn("Malformed task payload", slog.Any("error", err))
			return
		}
		c.coord.ConfirmUpserted(task)
	case protocol.EventTaskDeleted:
		var deleted protocol.TaskDeleted
		if err := json.Unmarshal(frame.Payload, &deleted); err != nil {
			c.logger.Warn("Malformed deletion payload", slog.Any("error", err))
			return
		}
		c.coord.ConfirmDeleted(deleted.TaskID)
	case protocol.EventUserJoined:
		if c.events.OnUserJoined != nil {
			var p protocol.UserPresence
			if json.Unmarshal(frame.Payload, &p) == nil {
				c.events.OnUserJoined(p.UserID)
			}
		}
	case protocol.EventUserLeft:
		if c.events.OnUserLeft != nil {
			var p protocol.UserPresence
			if json.Unmarshal(frame.Payload, &p) == nil {
				c.events.OnUserLeft(p.UserID)
			}
		}
	case protocol.EventUserEditing:
		if c.events.OnUserEditing != nil {
			var p protocol.EditingNotice
			if json.Unmarshal(frame.Payload, &p) == nil {
				c.events.OnUserEditing(p.UserID, p.TaskID)
			}
		}
	case protocol.EventConflict:
		if c.events.OnConflict != nil {
			var p protocol.ConflictNotice
			if json.Unmarshal(frame.Payload, &p) == nil {
				c.events.OnConflict(p.TaskID, p.UserID)
			}
		}
	case protocol.EventError:
		var p protocol.ErrorPayload
		if json.Unmarshal(frame.Payload, &p) == nil {
			c.logger.Warn("Server reported error", slog.String("error", p.Error))
			if c.events.OnError != nil {
				c.events.OnError(p.Error)
			}
		}
	}
}

// JoinRoom subscribes this connection to a room's broadcast scope.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	payload, err := c.call(ctx, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: roomID, UserID: c.userID})
	if err != nil {
		return err
	}
	var ack protocol.JoinAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("malformed join ack: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("join refused: %s", ack.Message)
	}
	return nil
}

// LeaveRoom is fire-and-forget, matching the server's no-ack contract.
func (c *Client) LeaveRoom(roomID string) error {
	return c.send(protocol.EventLeaveRoom, 0, protocol.LeaveRoom{RoomID: roomID, UserID: c.userID})
}

// CreateTask stages the task locally, then asks the server to persist it. On
// failure the coordinator rolls back to the state before the staging.
func (c *Client) CreateTask(ctx context.Context, title, description, roomID string) (*protocol.Task, error) {
	// Placeholder until the server assigns the real ULID. The "~" prefix
	// sorts after every real ID so the tentative entry renders last.
	tempID := fmt.Sprintf("~pending-%d", c.tempSeq.Add(1))
	c.coord.OptimisticCreate(protocol.Task{
		ID:          tempID,
		Title:       title,
		Description: description,
		Status:      protocol.StatusPending,
		RoomID:      roomID,
		OwnerID:     c.userID,
	})

	payload, err := c.call(ctx, protocol.EventCreateTask, protocol.CreateTask{
		Title:       title,
		Description: description,
		RoomID:      roomID,
	})
	if err != nil {
		c.coord.Rollback()
		return nil, err
	}
	if errMsg := ackError(payload); errMsg != "" {
		c.coord.Rollback()
		return nil, fmt.Errorf("create refused: %s", errMsg)
	}

	var task protocol.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		c.coord.Rollback()
		return nil, fmt.Errorf("malformed create ack: %w", err)
	}
	c.coord.Forget(tempID)
	c.coord.ConfirmUpserted(task)
	return &task, nil
}

// UpdateTask applies a partial update optimistically and reconciles against
// the server's authoritative result.
func (c *Client) UpdateTask(ctx context.Context, taskID string, title, description, status *string) (*protocol.Task, error) {
	c.coord.OptimisticUpdate(taskID, func(t *protocol.Task) {
		if title != nil {
			t.Title = *title
		}
		if description != nil {
			t.Description = *description
		}
		if status != nil {
			t.Status = protocol.TaskStatus(*status)
		}
	})

	payload, err := c.call(ctx, protocol.EventUpdateTask, protocol.UpdateTask{
		TaskID:      taskID,
		Title:       title,
		Description: description,
		Status:      status,
	})
	if err != nil {
		c.coord.Rollback()
		return nil, err
	}
	if errMsg := ackError(payload); errMsg != "" {
		c.coord.Rollback()
		return nil, fmt.Errorf("update refused: %s", errMsg)
	}

	var task protocol.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		c.coord.Rollback()
		return nil, fmt.Errorf("malformed update ack: %w", err)
	}
	c.coord.ConfirmUpserted(task)
	return &task, nil
}

// DeleteTask removes the task optimistically; a failure ack restores it.
func (c *Client) DeleteTask(ctx context.Context, taskID, roomID string) error {
	c.coord.OptimisticDelete(taskID)

	payload, err := c.call(ctx, protocol.EventDeleteTask, protocol.DeleteTask{TaskID: taskID, RoomID: roomID})
	if err != nil {
		c.coord.Rollback()
		return err
	}
	var ack protocol.DeleteAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		c.coord.Rollback()
		return fmt.Errorf("malformed delete ack: %w", err)
	}
	if !ack.Success {
		c.coord.Rollback()
		return fmt.Errorf("delete refused: %s", ack.Error)
	}
	c.coord.ConfirmDeleted(taskID)
	return nil
}

// NotifyEditing broadcasts an editing indicator to the room.
func (c *Client) NotifyEditing(roomID, taskID string) error {
	return c.send(protocol.EventUserEditing, 0, protocol.UserEditing{
		RoomID: roomID,
		UserID: c.userID,
		TaskID: taskID,
	})
}

// ReportConflict tells the room that a concurrent edit collided on a task.
func (c *Client) ReportConflict(roomID, taskID string) error {
	return c.send(protocol.EventConflict, 0, protocol.Conflict{
		RoomID: roomID,
		TaskID: taskID,
		UserID: c.userID,
	})
}

// ackError extracts the error message from a failure ack, if any.
func ackError(payload json.RawMessage) string {
	var e protocol.ErrorPayload
	if json.Unmarshal(payload, &e) == nil {
		return e.Error
	}
	return ""
}
