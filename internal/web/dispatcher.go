package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"nuha.dev/textgps/internal/store"
	"nuha.dev/textgps/internal/util"
)

var ErrBadRequest = errors.New("bad request")

// Dispatcher calls registered functions by name. A function is either
// func(ctx, *Res) error or func(ctx, *Req, *Res) error, requests are json
// decoded and validated before the call.
type Dispatcher struct {
	funcs     map[string]_function
	validator *validator.Validate
	log       log.Logger
}

type _function struct {
	reqType reflect.Type
	resType reflect.Type
	handler reflect.Value
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func NewDispatcher(vld *validator.Validate, logger log.Logger) *Dispatcher {
	d := &Dispatcher{}
	d.funcs = make(map[string]_function)
	d.validator = vld
	d.log = logger
	return d
}

func (disp *Dispatcher) Add(funcname string, f interface{}) {
	s := _function{}
	s.handler = reflect.ValueOf(f)
	t := s.handler.Type()
	if t.Kind() != reflect.Func || t.NumOut() != 1 || t.Out(0) != errorType || (t.NumIn() != 2 && t.NumIn() != 3) {
		panic(fmt.Sprintf("dispatcher: bad signature for %s: %s", funcname, t))
	}
	if t.NumIn() == 2 {
		s.resType = t.In(1).Elem()
	} else {
		s.reqType = t.In(1).Elem()
		s.resType = t.In(2).Elem()
	}
	disp.funcs[funcname] = s
}

func (disp *Dispatcher) Call(funcname string, w http.ResponseWriter, r *http.Request) {
	_func, ok := disp.funcs[funcname]
	if !ok {
		util.JsonError(w, http.StatusNotFound, fmt.Sprintf("function \"%s\" not found", funcname))
		return
	}
	disp.call(r.Context(), _func, r, w)
}

func (disp *Dispatcher) call(ctx context.Context, _func _function, r *http.Request, w http.ResponseWriter) {
	response := reflect.New(_func.resType)
	var err_ref []reflect.Value
	if _func.reqType != nil {
		request := reflect.New(_func.reqType)
		if err := json.NewDecoder(r.Body).Decode(request.Interface()); err != nil {
			util.JsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := disp.validator.Struct(request.Interface()); err != nil {
			util.JsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		err_ref = _func.handler.Call([]reflect.Value{reflect.ValueOf(ctx), request, response})
	} else {
		err_ref = _func.handler.Call([]reflect.Value{reflect.ValueOf(ctx), response})
	}
	if !err_ref[0].IsNil() {
		err := err_ref[0].Interface().(error)
		switch {
		case errors.Is(err, store.ErrNotFound):
			util.JsonError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrBadRequest):
			util.JsonError(w, http.StatusBadRequest, err.Error())
		default:
			disp.log.Error().Err(err).Msg("function call failed")
			util.JsonError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}
	util.JsonWrite(w, response.Interface())
}
