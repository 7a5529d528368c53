package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"evcs/internal"
	"evcs/internal/config"
	"evcs/metrics/counters"
	"evcs/ocpp"
	"evcs/utility"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	wsEndpoint = "/ws/:id"
	// responses to station requests are bounded by this when no context deadline applies
	writeWait = 10 * time.Second
)

type Server struct {
	conf           *config.Config
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	messageHandler func(ws *WebSocket, data []byte) error
	logger         internal.LogHandler
	pool           map[string]*WebSocket
	mux            sync.RWMutex
}

// WebSocket one charge point session; writes are serialized
type WebSocket struct {
	conn      *websocket.Conn
	id        string
	writeLock chan struct{}
}

func newWebSocket(conn *websocket.Conn, id string) *WebSocket {
	return &WebSocket{
		conn:      conn,
		id:        id,
		writeLock: make(chan struct{}, 1),
	}
}

func (ws *WebSocket) ID() string {
	return ws.id
}

// write sends one text frame, giving up when the context is done before the
// previous write finished or when the write deadline passes
func (ws *WebSocket) write(ctx context.Context, data []byte) error {
	select {
	case ws.writeLock <- struct{}{}:
	case <-ctx.Done():
		return internal.ErrCommandTimeout
	}
	defer func() { <-ws.writeLock }()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := ws.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	err := ws.conn.WriteMessage(websocket.TextMessage, data)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return internal.ErrCommandTimeout
	}
	return err
}

func NewServer(conf *config.Config, logger internal.LogHandler) *Server {
	server := Server{
		conf: conf,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
		pool:   make(map[string]*WebSocket),
	}
	// register itself as a router for httpServer handler
	router := httprouter.New()
	server.Register(router)
	server.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &server
}

func (s *Server) AddSupportedSupProtocol(proto string) {
	for _, sub := range s.upgrader.Subprotocols {
		if sub == proto {
			return
		}
	}
	s.upgrader.Subprotocols = append(s.upgrader.Subprotocols, proto)
}

func (s *Server) SetMessageHandler(handler func(ws *WebSocket, data []byte) error) {
	s.messageHandler = handler
}

func (s *Server) Register(router *httprouter.Router) {
	router.GET(wsEndpoint, s.handleWsRequest)
}

func (s *Server) handleWsRequest(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	s.logger.Debug(fmt.Sprintf("connection initiated from remote %s", r.RemoteAddr))

	clientSubProto := websocket.Subprotocols(r)
	requestedProto := ""
	for _, proto := range clientSubProto {
		if len(s.upgrader.Subprotocols) == 0 {
			// supporting all protocols
			requestedProto = proto
			break
		}
		if utility.Contains(s.upgrader.Subprotocols, proto) {
			requestedProto = proto
			break
		}
	}
	if requestedProto == "" && len(s.upgrader.Subprotocols) > 0 {
		s.logger.Warn(fmt.Sprintf("%s: unsupported subprotocols %v", id, clientSubProto))
		http.Error(w, "unsupported subprotocol", http.StatusBadRequest)
		return
	}
	responseHeader := http.Header{}
	if requestedProto != "" {
		responseHeader.Add("Sec-WebSocket-Protocol", requestedProto)
	}
	conn, err := s.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		s.logger.Error("upgrade failed", err)
		return
	}

	s.logger.Debug(fmt.Sprintf("upgraded socket for %s and ready to receive data", id))
	ws := newWebSocket(conn, id)
	s.register(ws)

	go s.messageReader(ws)
}

func (s *Server) register(ws *WebSocket) {
	s.mux.Lock()
	previous, ok := s.pool[ws.id]
	s.pool[ws.id] = ws
	count := len(s.pool)
	s.mux.Unlock()

	if ok {
		s.logger.Warn(fmt.Sprintf("%s reconnected, closing previous session", ws.id))
		_ = previous.conn.Close()
	}
	counters.ObserveConnections(count)
}

func (s *Server) unregister(ws *WebSocket) {
	s.mux.Lock()
	if current, ok := s.pool[ws.id]; ok && current == ws {
		delete(s.pool, ws.id)
	}
	count := len(s.pool)
	s.mux.Unlock()
	counters.ObserveConnections(count)
}

func (s *Server) connection(chargePointId string) (*WebSocket, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	ws, ok := s.pool[chargePointId]
	return ws, ok
}

// IsConnected reports whether the charge point has an open session
func (s *Server) IsConnected(chargePointId string) bool {
	_, ok := s.connection(chargePointId)
	return ok
}

func (s *Server) messageReader(ws *WebSocket) {
	conn := ws.conn
	defer s.unregister(ws)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, 3001) {
				s.logger.Debug(fmt.Sprintf("id %s leaving session", ws.id))
			} else {
				s.logger.Debug(fmt.Sprintf("id %s is closing session %s", ws.id, err))
			}
			err = conn.Close()
			if err != nil {
				s.logger.Debug(fmt.Sprintf("closing socket %s: %s", ws.id, err))
			}
			return
		}
		s.logger.RawDataEvent("IN", string(message))
		if s.messageHandler != nil {
			err = s.messageHandler(ws, message)
			if err != nil {
				s.logger.Error(fmt.Sprintf("handling message from %s", ws.id), err)
				continue
			}
		}
	}
}

func (s *Server) Start() error {
	if s.conf == nil {
		return utility.Err("configuration not loaded")
	}
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port)
	s.logger.Debug(fmt.Sprintf("starting server on %s", serverAddress))
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}
	if s.conf.Listen.TLS {
		s.logger.Debug("starting https TLS server")
		err = s.httpServer.ServeTLS(listener, s.conf.Listen.CertFile, s.conf.Listen.KeyFile)
	} else {
		s.logger.Debug("starting http server")
		err = s.httpServer.Serve(listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and closes the open sessions
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.mux.RLock()
	for _, ws := range s.pool {
		_ = ws.conn.Close()
	}
	s.mux.RUnlock()
	return err
}

// SendRequest writes a server initiated Call to the charge point and returns
// its unique id; the response arrives later through the message handler
func (s *Server) SendRequest(ctx context.Context, chargePointId string, request ocpp.Request) (string, error) {
	ws, ok := s.connection(chargePointId)
	if !ok {
		return "", internal.ErrNotConnected
	}
	callRequest := CreateCallRequest(request)
	data, err := callRequest.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", request.GetFeatureName(), err)
	}
	s.logger.RawDataEvent("OUT", string(data))
	if err = ws.write(ctx, data); err != nil {
		return "", err
	}
	return callRequest.UniqueId, nil
}

func (s *Server) SendResponse(ws *WebSocket, uniqueId string, response ocpp.Response) error {
	data, err := CreateCallResult(response, uniqueId).MarshalJSON()
	if err != nil {
		s.logger.Error("error encoding response", err)
		return err
	}
	return s.send(ws, data)
}

func (s *Server) SendError(ws *WebSocket, callError *CallError) error {
	data, err := callError.MarshalJSON()
	if err != nil {
		s.logger.Error("error encoding call error", err)
		return err
	}
	return s.send(ws, data)
}

func (s *Server) send(ws *WebSocket, data []byte) error {
	s.logger.RawDataEvent("OUT", string(data))
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	err := ws.write(ctx, data)
	if err != nil {
		s.logger.Error(fmt.Sprintf("error sending to %s", ws.id), err)
	}
	return err
}
