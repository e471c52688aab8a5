// Package tcp 实现网关的帧式 TCP 接入层。每个连接一个 goroutine，
// 同一连接上的帧严格按序处理；单帧解析或处理失败只产生错误响应，
// 不会断开连接。
package tcp

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/wyfcoding/paymentprocessor/internal/gateway/application"
	"github.com/wyfcoding/paymentprocessor/internal/gateway/domain"
	"github.com/wyfcoding/paymentprocessor/internal/gateway/infrastructure/codec"
	"github.com/wyfcoding/paymentprocessor/pkg/logger"
	"github.com/wyfcoding/paymentprocessor/pkg/metrics"
)

// responseMTI 是所有出站响应帧的报文类型标识。
const responseMTI = "0210"

// Server 是帧式 TCP 接入服务。
type Server struct {
	addr        string
	readTimeout time.Duration
	maxFrame    int
	service     *application.ProcessingService
	metrics     *metrics.Metrics

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer 创建 TCP 接入服务
func NewServer(addr string, readTimeout time.Duration, maxFrame int, svc *application.ProcessingService, m *metrics.Metrics) *Server {
	if readTimeout <= 0 {
		readTimeout = 5 * time.Minute
	}
	if maxFrame <= 0 || maxFrame > codec.MaxFrameBytes {
		maxFrame = codec.MaxFrameBytes
	}
	return &Server{
		addr:        addr,
		readTimeout: readTimeout,
		maxFrame:    maxFrame,
		service:     svc,
		metrics:     m,
	}
}

// Addr 返回监听地址，仅在 Run 启动后有效。
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run 启动监听并阻塞到 ctx 取消，返回前等待所有活跃连接结束。
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info(ctx, "Gateway listener started", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn(ctx, "Accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}

	s.wg.Wait()
	logger.Info(ctx, "Gateway listener stopped")
	return nil
}

// handleConn 处理单个连接上的帧循环。连接级 I/O 错误只结束本连接。
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
		defer s.metrics.ActiveConnections.Dec()
	}
	logger.Info(ctx, "Connection accepted", "remote", remote)

	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := s.readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn(ctx, "Connection read failed", "remote", remote, "error", err)
			} else {
				logger.Info(ctx, "Connection closed by peer", "remote", remote)
			}
			return
		}
		if s.metrics != nil {
			s.metrics.FramesTotal.Inc()
		}

		outcome := s.handleFrame(ctx, frame)

		if err := s.writeResponse(conn, outcome); err != nil {
			logger.Warn(ctx, "Connection write failed", "remote", remote, "error", err)
			return
		}
	}
}

// readFrame 读取一帧：4 字节头加负载，返回含头的完整缓冲。
// 声明长度不合法视为协议失步，由调用方关闭连接。
func (s *Server) readFrame(conn net.Conn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length == 0 || length > uint32(s.maxFrame) {
		return nil, fmt.Errorf("invalid declared frame length %d", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	return append(header, body...), nil
}

// handleFrame 解码并路由一帧。解码失败收敛为 96，连接继续可用。
func (s *Server) handleFrame(ctx context.Context, frame []byte) domain.Outcome {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.MessageDuration.Observe(time.Since(start).Seconds())
		}
	}()

	msg, err := codec.Decode(frame)
	if err != nil {
		logger.Warn(ctx, "Frame decode failed", "error", err)
		return domain.Outcome{
			Approved:     false,
			ResponseCode: domain.CodeMalfunction,
			ErrorDetail:  err.Error(),
		}
	}

	return s.service.Process(ctx, msg.Fields)
}

// writeResponse 构造并写出响应帧：0210 前缀加 fields JSON。
func (s *Server) writeResponse(conn net.Conn, outcome domain.Outcome) error {
	fields := map[string]string{"39": outcome.ResponseCode}
	if outcome.AuthCode != "" {
		fields["38"] = outcome.AuthCode
	}

	body, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	payload := append([]byte(responseMTI), body...)
	if _, err := conn.Write(codec.Encode(payload)); err != nil {
		return fmt.Errorf("failed to write response frame: %w", err)
	}
	return nil
}
