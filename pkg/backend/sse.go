package backend

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"
)

const doneSentinel = "[DONE]"

// ChatStream decodes the backend's event-stream response incrementally:
// bytes are buffered, split on line boundaries, and lines prefixed "data: "
// are parsed as JSON delta chunks. Malformed lines are logged and skipped.
type ChatStream struct {
	sessionID string
	body      io.ReadCloser
	reader    *bufio.Reader
	log       *zap.SugaredLogger
}

func newChatStream(body io.ReadCloser, sessionID string, log *zap.SugaredLogger) *ChatStream {
	return &ChatStream{
		sessionID: sessionID,
		body:      body,
		reader:    bufio.NewReader(body),
		log:       log,
	}
}

// SessionID returns the session identifier the backend echoed in its
// response headers, or "" when absent.
func (s *ChatStream) SessionID() string { return s.sessionID }

type deltaChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (d deltaChunk) content() string {
	if len(d.Choices) == 0 {
		return ""
	}
	return d.Choices[0].Delta.Content
}

// Recv returns the next non-empty content delta, in backend order. It
// returns io.EOF on the [DONE] sentinel or when the backend closes the
// stream.
func (s *ChatStream) Recv() (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// Stream ended without the sentinel; treat the tail
				// as a final (possibly partial) line.
				if token, ok := s.decodeLine(line); ok {
					return token, nil
				}
				return "", io.EOF
			}
			return "", err
		}

		if token, ok := s.decodeLine(line); ok {
			return token, nil
		}
		if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "data:")) == doneSentinel {
			return "", io.EOF
		}
	}
}

// decodeLine extracts a non-empty content delta from one stream line. The
// bool is false for blank lines, non-data lines, the sentinel, malformed
// JSON and empty deltas.
func (s *ChatStream) decodeLine(raw string) (string, bool) {
	line := strings.TrimRight(raw, "\r\n")
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}

	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" || data == doneSentinel {
		return "", false
	}

	var chunk deltaChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		s.log.Warnw("skipping malformed stream line", "line", line, "error", err)
		return "", false
	}

	if content := chunk.content(); content != "" {
		return content, true
	}
	return "", false
}

// Close releases the underlying response body.
func (s *ChatStream) Close() error { return s.body.Close() }
