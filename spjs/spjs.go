// Package spjs is a client for the Serial Port JSON Server websocket API.
package spjs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// SPJS keeps a websocket connection to the server open, reconnecting
// as needed.
type SPJS struct {
	url string
	log *slog.Logger
	ctx context.Context

	outgoing chan message
	incoming chan any
}

type message struct {
	done    chan struct{}
	payload []byte
}

type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}
type CmdStatus struct {
	Cmd        string
	QueueCount int `json:"QCnt"`
	Type       []string
	Data       []string `json:"D"`
	ID         string   `json:"Id"`
}

type ErrorMessage struct {
	Error string
}
type SerialPortList struct {
	SerialPorts []SerialPort
}
type SerialPort struct {
	Name                      string
	Friendly                  string
	SerialNumber              string
	DeviceClass               string
	IsOpen                    bool
	IsPrimary                 bool
	RelatedNames              []string
	Baud                      int
	BufferAlgorithm           string
	AvailableBufferAlgorithms []string
	Ver                       float64
	USBVID                    string
	USBPID                    string
	FeedRateOverride          float64
}

// NewSPJS connects to url until ctx is done.
func NewSPJS(ctx context.Context, url string, log *slog.Logger) *SPJS {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	sp := &SPJS{
		url:      url,
		log:      log,
		ctx:      ctx,
		outgoing: make(chan message, 1000),
		incoming: make(chan any, 1000),
	}

	go sp.loop()

	return sp
}

// Messages returns decoded server messages: *DataFrame, *CmdStatus,
// *SerialPortList or *ErrorMessage.
func (sp *SPJS) Messages() chan any {
	return sp.incoming
}

func parseSPJSMessage(data []byte, msg map[string]json.RawMessage) (val any, err error) {
	check := func(fieldName string, v any) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("SerialPorts", &SerialPortList{}) {
		return
	}
	if check("Type", &CmdStatus{}) {
		return
	}
	if check("D", &DataFrame{}) {
		return
	}

	return nil, errors.New("unknown message: " + string(data))
}
func (sp *SPJS) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			sp.log.Error("spjs read", "err", err)
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		var msg map[string]json.RawMessage
		err = json.Unmarshal(data, &msg)
		if err != nil {
			sp.log.Error("spjs decode", "err", err)
			continue
		}
		val, err := parseSPJSMessage(data, msg)
		if err != nil {
			sp.log.Debug("spjs message", "err", err)
			continue
		}
		select {
		case sp.incoming <- val:
		case <-sp.ctx.Done():
			return
		}
	}
}
func (sp *SPJS) loop() {
	var nextUp message

reconnect:
	for {
		if sp.ctx.Err() != nil {
			return
		}
		sp.log.Info("connecting to spjs", "url", sp.url)
		ws, _, err := websocket.DefaultDialer.DialContext(sp.ctx, sp.url, nil)
		if err != nil {
			sp.log.Error("spjs connect", "err", err)
			select {
			case <-sp.ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		sp.log.Info("connected to spjs")
		ch := make(chan struct{})
		go sp.readLoop(ws, ch)
		go sp.WriteString("list") // refresh list on reconnect

		for {
			if nextUp.done != nil {
				err = ws.WriteMessage(websocket.TextMessage, nextUp.payload)
				if err != nil {
					sp.log.Error("spjs send", "err", err)
					ws.Close()
					continue reconnect
				}
				close(nextUp.done)
				nextUp.done = nil
			}

			select {
			case <-sp.ctx.Done():
				ws.Close()
				return
			case <-ch:
				ws.Close()
				continue reconnect
			case nextUp = <-sp.outgoing:
			}
		}
	}
}

type JSON struct {
	Port string `json:"P"`
	Data []Data
}
type Data struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

func (sp *SPJS) SendJSON(v JSON) {
	data, err := json.Marshal(v)
	if err != nil {
		// shouldn't happen since we control everything that's sent out
		panic("spjs: marshal: " + err.Error())
	}
	sp.send(append([]byte("sendjson "), data...))
}

func (sp *SPJS) WriteString(data string) {
	sp.send([]byte(data))
}

// send blocks until the payload was written or the client stopped.
func (sp *SPJS) send(payload []byte) {
	ch := make(chan struct{})
	select {
	case sp.outgoing <- message{done: ch, payload: payload}:
	case <-sp.ctx.Done():
		return
	}
	select {
	case <-ch:
	case <-sp.ctx.Done():
	}
}
