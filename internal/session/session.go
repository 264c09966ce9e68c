package session

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/serial-echo/internal/codec"
	"github.com/wfunc/serial-echo/internal/config"
	"github.com/wfunc/serial-echo/internal/errors"
	"github.com/wfunc/serial-echo/internal/logger"
	"github.com/wfunc/serial-echo/internal/serialport"
	"go.uber.org/zap"
)

// 交互界面文案
const (
	MsgOpened   = "打开串口"
	MsgPrompt   = "输入发送的数据:"
	MsgReceived = "接收到的数据为:"
	MsgFailed   = "打开串口失败！"
)

// Session 串口收发会话：打开 → 输入 → 发送 → 接收 → 显示 → 关闭，循环往复。
// 收发循环只在一个goroutine中运行；Abort 可以从其他goroutine调用。
type Session struct {
	id        string
	source    func() config.SerialConfig
	opener    serialport.Opener
	in        *bufio.Reader
	out       io.Writer
	observers []Observer
	logger    *zap.Logger
	codecs    map[string]*codec.Codec

	// 上次打开失败后，先等操作员输入再重试
	awaitOperator bool

	mu      sync.Mutex
	current *serialport.Conn
}

// New 创建会话
func New(cfg config.SerialConfig, opts ...Option) *Session {
	s := &Session{
		id:     uuid.New().String(),
		source: func() config.SerialConfig { return cfg },
		opener: serialport.OpenPort,
		out:    os.Stdout,
		logger: logger.GetModuleLogger("session"),
		codecs: make(map[string]*codec.Codec),
	}
	s.setInput(os.Stdin)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) setInput(r io.Reader) {
	if br, ok := r.(*bufio.Reader); ok {
		s.in = br
		return
	}
	s.in = bufio.NewReader(r)
}

// ID 会话ID
func (s *Session) ID() string {
	return s.id
}

// Run 循环执行收发，直到 ctx 结束或操作员输入结束（EOF）
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("会话开始", zap.String("session_id", s.id))
	defer s.logger.Info("会话结束", zap.String("session_id", s.id))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := s.Exchange(ctx)
		if inputClosed(res) {
			return nil
		}
	}
}

// Abort 关闭当前持有的串口（信号处理时调用）
func (s *Session) Abort() error {
	s.mu.Lock()
	conn := s.current
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	s.logger.Info("中止会话，关闭串口", zap.String("port", conn.Name()))
	return conn.Close()
}

// Exchange 执行一次完整的收发。任何失败（包括panic）都转换为失败的 Result，不向外抛出。
func (s *Session) Exchange(ctx context.Context) (res *Result) {
	res = &Result{
		ID:        uuid.New().String(),
		SessionID: s.id,
		StartedAt: time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, debug.Stack())
			res.Stage = StagePanic
			res.Err = errors.Newf(errors.ErrUnknown, "panic: %v", r)
		}
		res.Duration = time.Since(res.StartedAt)
		s.finish(ctx, res)
	}()

	cfg := s.source()
	res.Port = cfg.Port
	res.Encoding = cfg.Encoding

	var text string
	haveInput := false
	if s.awaitOperator {
		line, err := s.readInput()
		if err != nil {
			res.fail(StageInput, errors.Wrap(err, errors.ErrConsoleInput))
			return res
		}
		text, haveInput = line, true
	}

	// 1. 打开串口
	conn, err := serialport.OpenWith(s.opener, serialport.ConfigFrom(cfg))
	if err != nil {
		s.awaitOperator = true
		res.fail(StageAcquire, errors.Wrap(err, errors.ErrSerialPortOpen))
		return res
	}
	s.awaitOperator = false
	s.hold(conn)
	// 6. 所有路径上都关闭串口
	defer s.release(conn, res)

	fmt.Fprintln(s.out, MsgOpened, conn.String())

	// 2. 读取操作员输入
	if !haveInput {
		line, err := s.readInput()
		if err != nil {
			res.fail(StageInput, errors.Wrap(err, errors.ErrConsoleInput))
			return res
		}
		text = line
	}
	res.Sent = text

	// 3. 编码并发送
	c, err := s.codecFor(cfg.Encoding)
	if err != nil {
		res.fail(StageEncode, errors.Wrap(err, errors.ErrUnknownEncoding))
		return res
	}
	payload, err := c.Encode(text)
	if err != nil {
		res.fail(StageEncode, errors.Wrap(err, errors.ErrEncode))
		return res
	}
	res.SentBytes = payload
	if _, err := conn.Write(payload); err != nil {
		res.fail(StageWrite, errors.Wrap(err, errors.ErrSerialPortWrite))
		return res
	}

	// 4. 接收一行（或等到超时）
	raw, err := conn.ReadLine()
	res.ReceivedBytes = raw
	if err != nil {
		res.fail(StageRead, errors.Wrap(err, errors.ErrSerialPortRead))
		return res
	}

	// 5. 解码并显示
	received, err := c.Decode(raw)
	if err != nil {
		res.fail(StageDecode, errors.Wrap(err, errors.ErrDecode))
		return res
	}
	res.Received = received
	res.Stage = StageDone

	fmt.Fprintln(s.out, MsgReceived, strings.TrimRight(received, "\r\n"))
	return res
}

// readInput 提示并读取一行，去掉行尾换行
func (s *Session) readInput() (string, error) {
	fmt.Fprint(s.out, MsgPrompt)

	line, err := s.in.ReadString('\n')
	if err != nil {
		// 最后一行没有换行符时照常返回，下次再报EOF
		if stderrors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// codecFor 按名称取编解码器（带缓存）
func (s *Session) codecFor(name string) (*codec.Codec, error) {
	if c, ok := s.codecs[name]; ok {
		return c, nil
	}
	c, err := codec.Lookup(name)
	if err != nil {
		return nil, err
	}
	s.codecs[name] = c
	return c, nil
}

func (s *Session) hold(conn *serialport.Conn) {
	s.mu.Lock()
	s.current = conn
	s.mu.Unlock()
}

// release 关闭串口；成功的收发在关闭失败时也记为失败
func (s *Session) release(conn *serialport.Conn, res *Result) {
	s.mu.Lock()
	if s.current == conn {
		s.current = nil
	}
	s.mu.Unlock()

	if err := conn.Close(); err != nil {
		if res.OK() {
			res.fail(StageRelease, errors.Wrap(err, errors.ErrSerialPortClose))
			return
		}
		s.logger.Warn("关闭串口失败", zap.String("port", conn.Name()), zap.Error(err))
	}
}

// finish 统一的出口：记录日志、提示操作员、通知观察者
func (s *Session) finish(ctx context.Context, res *Result) {
	if inputClosed(res) {
		fmt.Fprintln(s.out)
		s.logger.Info("操作员输入结束", zap.String("exchange_id", res.ID))
		return
	}

	logger.LogSerialExchange(res.Port, res.SentBytes, res.ReceivedBytes, res.Duration, res.Err)

	if !res.OK() {
		s.logger.Warn("收发失败",
			zap.String("exchange_id", res.ID),
			zap.String("port", res.Port),
			zap.String("stage", string(res.Stage)),
			zap.Int("code", int(res.ErrorCode())),
			zap.Error(res.Err),
		)
		fmt.Fprintln(s.out, MsgFailed)
		fmt.Fprintln(s.out, res.Reason())
	}

	for _, o := range s.observers {
		s.notify(ctx, o, res)
	}
}

// notify 观察者出错不影响收发循环
func (s *Session) notify(ctx context.Context, o Observer, res *Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, debug.Stack())
		}
	}()
	o.OnResult(ctx, res)
}

// inputClosed 操作员输入已到EOF
func inputClosed(res *Result) bool {
	return res.Stage == StageInput && stderrors.Is(res.Err, io.EOF)
}
