package presence

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ErinHernandez/TopDog-sub011/internal/delivery"
	"github.com/gin-contrib/sse"
)

const (
	// EventAlert carries one JSON encoded delivery.Message.
	EventAlert = "alert"
	// EventHeartbeat keeps idle connections open.
	EventHeartbeat = "heartbeat"

	maxEventLineBytes = 64 * 1024
)

var (
	ErrMissingStreamURL = errors.New("presence: stream url required")
	ErrUnexpectedStatus = errors.New("presence: unexpected stream status")
)

// StreamReader reads alerts from the server-sent event stream of the alert service.
type StreamReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// OpenStream connects to streamURL, authenticating with token through the access_token parameter.
func OpenStream(ctx context.Context, client *http.Client, streamURL, token string) (*StreamReader, error) {
	if strings.TrimSpace(streamURL) == "" {
		return nil, ErrMissingStreamURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	target, err := url.Parse(streamURL)
	if err != nil {
		return nil, fmt.Errorf("presence: parse stream url: %w", err)
	}
	if token != "" {
		query := target.Query()
		query.Set("access_token", token)
		target.RawQuery = query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("presence: build stream request: %w", err)
	}
	request.Header.Set("Accept", "text/event-stream")
	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("presence: open stream: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		response.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, response.StatusCode)
	}
	return NewStreamReader(response.Body), nil
}

// NewStreamReader wraps an already open event stream.
func NewStreamReader(body io.ReadCloser) *StreamReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxEventLineBytes)
	return &StreamReader{body: body, scanner: scanner}
}

// Next blocks until the next alert arrives. Heartbeats and unknown events are skipped.
// It returns io.EOF once the server closes the stream.
func (r *StreamReader) Next() (delivery.Message, error) {
	for {
		event, err := r.readEvent()
		if err != nil {
			return delivery.Message{}, err
		}
		if event.Event != EventAlert {
			continue
		}
		data, _ := event.Data.(string)
		var message delivery.Message
		if err := json.Unmarshal([]byte(data), &message); err != nil {
			return delivery.Message{}, fmt.Errorf("presence: decode alert: %w", err)
		}
		return message, nil
	}
}

// Close releases the underlying connection.
func (r *StreamReader) Close() error {
	return r.body.Close()
}

// readEvent frames the stream at blank lines and hands each frame to the sse decoder, which
// applies the field rules of the event-stream format.
func (r *StreamReader) readEvent() (sse.Event, error) {
	var frame bytes.Buffer
	for {
		more := r.scanner.Scan()
		if more && r.scanner.Text() != "" {
			frame.Write(r.scanner.Bytes())
			frame.WriteByte('\n')
			continue
		}
		if !more {
			if err := r.scanner.Err(); err != nil {
				return sse.Event{}, err
			}
		}
		if frame.Len() > 0 {
			events, err := sse.Decode(&frame)
			if err != nil {
				return sse.Event{}, fmt.Errorf("presence: decode event: %w", err)
			}
			frame.Reset()
			if len(events) > 0 {
				return events[0], nil
			}
		}
		if !more {
			return sse.Event{}, io.EOF
		}
	}
}
