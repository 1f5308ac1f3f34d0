package twitch

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// DefaultAddr — TLS адрес IRC шлюза Twitch.
const DefaultAddr = "irc.chat.twitch.tv:6697"

// Transport — построчный канал до сервера чата.
type Transport interface {
	// ReadLine возвращает следующую строку без CRLF. Вызывать после Available.
	ReadLine() (string, error)
	// WriteLines пишет строки одним буфером и сбрасывает его.
	WriteLines(lines ...string) error
	// Available сообщает без блокировки, есть ли строка или ошибка для чтения.
	Available() bool
	Close() error
}

// DialFunc открывает новое соединение.
type DialFunc func(ctx context.Context) (Transport, error)

// TLSDialer возвращает DialFunc, подключающийся к addr по TLS.
func TLSDialer(addr string, timeout time.Duration) DialFunc {
	if addr == "" {
		addr = DefaultAddr
	}
	return func(ctx context.Context) (Transport, error) {
		host, _, _ := strings.Cut(addr, ":")
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: timeout},
			Config:    &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
		}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return NewConnTransport(conn), nil
	}
}

// connTransport читает соединение в отдельной горутине, чтобы Available не блокировался.
type connTransport struct {
	conn io.ReadWriteCloser

	writeMu sync.Mutex
	w       *bufio.Writer

	lines chan string
	errC  chan error
	done  chan struct{}

	closeOnce sync.Once
}

// NewConnTransport оборачивает уже открытое соединение.
func NewConnTransport(conn io.ReadWriteCloser) Transport {
	t := &connTransport{
		conn:  conn,
		w:     bufio.NewWriter(conn),
		lines: make(chan string, 64),
		errC:  make(chan error, 1),
		done:  make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *connTransport) readLoop() {
	s := bufio.NewScanner(t.conn)
	s.Buffer(make([]byte, 0, 4096), 64*1024)
	for s.Scan() {
		line := strings.TrimRight(s.Text(), "\r")
		if line == "" {
			continue
		}
		select {
		case t.lines <- line:
		case <-t.done:
			return
		}
	}

	err := s.Err()
	if err == nil {
		err = io.EOF
	}
	t.errC <- err
}

func (t *connTransport) Available() bool {
	return len(t.lines) > 0 || len(t.errC) > 0
}

func (t *connTransport) ReadLine() (string, error) {
	select {
	case line := <-t.lines:
		return line, nil
	default:
	}

	select {
	case line := <-t.lines:
		return line, nil
	case err := <-t.errC:
		// ошибку оставляем в канале, чтобы следующие чтения тоже её видели
		t.errC <- err
		return "", fmt.Errorf("read line: %w", err)
	}
}

func (t *connTransport) WriteLines(lines ...string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for _, l := range lines {
		if _, err := t.w.WriteString(l + "\r\n"); err != nil {
			return fmt.Errorf("write line: %w", err)
		}
	}
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (t *connTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
