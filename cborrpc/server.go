// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package cborrpc

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"reflect"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// Server dispatches CBOR-RPC requests to the exported methods of a
// target object.  A method "open_module" calls Target.OpenModule.  If
// the method's last return value is an error, a non-nil error becomes
// the response's error message; otherwise a single remaining return
// value is the result and several are sent as a list.
type Server struct {
	// Target receives the method calls.
	Target interface{}

	// Logger receives connection errors; the standard logger is
	// used if it is nil.
	Logger *logrus.Logger

	// RequestLogger, if non-nil, receives a debug line for every
	// request and response.
	RequestLogger *logrus.Logger

	cbor *codec.CborHandle
}

func (s *Server) log() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logrus.StandardLogger()
}

func (s *Server) handle() (*codec.CborHandle, error) {
	if s.cbor != nil {
		return s.cbor, nil
	}
	cbor, err := NewHandle()
	if err != nil {
		return nil, err
	}
	s.cbor = cbor
	return cbor, nil
}

// Serve accepts connections on ln until it fails, handling each on
// its own goroutine.  It always returns a non-nil error.
func (s *Server) Serve(ln net.Listener) error {
	if _, err := s.handle(); err != nil {
		return err
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.ServeConn(conn)
	}
}

// ServeConn handles requests on one connection until the peer closes
// it or an error occurs.
func (s *Server) ServeConn(conn net.Conn) {
	defer conn.Close()

	fields := logrus.Fields{
		"remote": conn.RemoteAddr(),
	}
	errLog := s.log().WithFields(fields)
	var reqLog *logrus.Entry
	if s.RequestLogger != nil {
		reqLog = s.RequestLogger.WithFields(fields)
	}

	cbor, err := s.handle()
	if err != nil {
		errLog.WithError(err).Error("Error setting up codec")
		return
	}
	target := reflect.ValueOf(s.Target)
	decoder := codec.NewDecoder(bufio.NewReader(conn), cbor)
	writer := bufio.NewWriter(conn)
	encoder := codec.NewEncoder(writer, cbor)

	for {
		var request Request
		err := decoder.Decode(&request)
		if err == io.EOF {
			if reqLog != nil {
				reqLog.Debug("Connection closed")
			}
			return
		} else if err != nil {
			errLog.WithError(err).Error("Error reading message")
			return
		}
		if reqLog != nil {
			reqLog.WithFields(logrus.Fields{
				"id":     request.ID,
				"method": request.Method,
			}).Debug("Request")
		}
		response := s.do(target, request)
		if reqLog != nil {
			entry := reqLog.WithField("id", response.ID)
			if response.Error != "" {
				entry = entry.WithField("error", response.Error)
			}
			entry.Debug("Response")
		}
		if err = encoder.Encode(response); err != nil {
			errLog.WithError(err).Error("Error encoding response")
			return
		}
		if err = writer.Flush(); err != nil {
			errLog.WithError(err).Error("Error writing response")
			return
		}
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func (s *Server) do(target reflect.Value, request Request) (response Response) {
	response.ID = request.ID

	defer func() {
		if oops := recover(); oops != nil {
			buf := make([]byte, 65536)
			buf = buf[:runtime.Stack(buf, false)]
			s.log().WithFields(logrus.Fields{
				"panic":  oops,
				"method": request.Method,
				"stack":  string(buf),
			}).Error("Panic in RPC method")
			response.Result = nil
			response.Error = fmt.Sprintf("%v", oops)
		}
	}()

	method := MethodName(request.Method)
	funcv := target.MethodByName(method)
	if !funcv.IsValid() {
		response.Error = fmt.Sprintf("no such method %v", request.Method)
		return
	}
	params, err := CreateParamList(funcv, request.Params)
	if err != nil {
		response.Error = err.Error()
		return
	}

	funct := funcv.Type()
	returnsError := funct.NumOut() > 0 && funct.Out(funct.NumOut()-1) == errorType
	returns := funcv.Call(params)
	if returnsError {
		if errV := returns[len(returns)-1].Interface(); errV != nil {
			response.Error = errV.(error).Error()
			return
		}
		returns = returns[:len(returns)-1]
	}

	switch len(returns) {
	case 0:
	case 1:
		response.Result = returns[0].Interface()
	default:
		results := make([]interface{}, len(returns))
		for i, retval := range returns {
			results[i] = retval.Interface()
		}
		response.Result = results
	}
	return
}
