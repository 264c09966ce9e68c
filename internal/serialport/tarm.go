package serialport

import (
	"strings"

	"github.com/tarm/serial"
)

// openTarm 通过 github.com/tarm/serial 打开串口
func openTarm(cfg Config) (Port, error) {
	// 解析校验位
	parity := serial.ParityNone
	switch strings.ToUpper(cfg.Parity) {
	case "O", "ODD":
		parity = serial.ParityOdd
	case "E", "EVEN":
		parity = serial.ParityEven
	}

	stopBits := serial.Stop1
	if cfg.StopBits == 2 {
		stopBits = serial.Stop2
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.BaudRate,
		Size:        byte(cfg.DataBits),
		Parity:      parity,
		StopBits:    stopBits,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}
