package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/intakevox/internal/capture"
	"github.com/MrWong99/intakevox/internal/intake"
)

// tickWriteTimeout bounds a single tick write to a slow client.
const tickWriteTimeout = 5 * time.Second

// tickMessage is one elapsed-time update.
type tickMessage struct {
	Elapsed int    `json:"elapsed"`
	Display string `json:"display"`
}

// handleTicks handles GET /api/steps/{step}/recording/ticks. The socket
// carries one message per elapsed second, always ending with the final
// value, and closes normally once the recording is finalized.
func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	step := r.PathValue("step")
	if st, ok := s.intake.Status(); !ok || st.Step != step || st.State != capture.StateRecording {
		writeError(w, r, fmt.Errorf("%w: step %q", capture.ErrNotRecording, step), nil)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Warn("api: websocket accept failed", "step", step, "err", err)
		return
	}
	defer conn.CloseNow()

	// The client never sends; CloseRead handles its close frame and cancels
	// ctx when it goes away.
	ctx := conn.CloseRead(r.Context())

	err = s.intake.Watch(ctx, step, func(elapsed int) error {
		wctx, cancel := context.WithTimeout(ctx, tickWriteTimeout)
		defer cancel()
		return wsjson.Write(wctx, conn, tickMessage{
			Elapsed: elapsed,
			Display: capture.FormatElapsed(elapsed),
		})
	})
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "recording stopped")
	case errors.Is(err, context.Canceled), websocket.CloseStatus(err) != -1:
		// Client closed.
	default:
		f := intake.Classify(err)
		conn.Close(websocket.StatusInternalError, string(f.Kind))
	}
}
