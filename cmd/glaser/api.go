package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mastercactapus/glaser/config"
	"github.com/mastercactapus/glaser/coord"
	"github.com/mastercactapus/glaser/gcode"
	"github.com/mastercactapus/glaser/machine"
	"github.com/mastercactapus/glaser/machine/grbl"
)

type api struct {
	http.Handler
	m       *machine.Machine
	cfg     *config.Config
	dataDir string
	log     *zap.Logger
}

func newAPI(m *machine.Machine, cfg *config.Config, events http.Handler, log *zap.Logger) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		m:       m,
		cfg:     cfg,
		dataDir: cfg.HTTP.Dir,
		log:     log,
	}

	fs := http.FileServer(http.Dir(a.dataDir))
	r.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case "GET":
			fs.ServeHTTP(w, req)
		case "PUT":
			a.putFile(w, req)
		case "DELETE":
			a.deleteFile(w, req)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})))

	sub := r.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/run", a.run).Methods("POST")
	sub.HandleFunc("/command", a.command).Methods("POST")
	sub.HandleFunc("/jog", a.jog).Methods("POST")
	sub.HandleFunc("/{action:pause|resume|stop}", a.control).Methods("POST")
	sub.HandleFunc("/{action:home|unlock|zero|return}", a.manual).Methods("POST")
	sub.HandleFunc("/session", a.session).Methods("GET")
	sub.HandleFunc("/position", a.position).Methods("GET")

	if events != nil {
		r.PathPrefix("/events/").Handler(events)
	}

	return a
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		return false, ""
	}
	dir := string(base)
	if dir == "" {
		dir = "."
	}
	fullName := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
	return true, fullName
}

func (a *api) fail(w http.ResponseWriter, op string, err error) {
	code := http.StatusInternalServerError
	var rej machine.Rejection
	switch {
	case errors.Is(err, grbl.ErrBusy), errors.Is(err, grbl.ErrNotRunning):
		code = http.StatusConflict
	case errors.As(err, &rej):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, gcode.ErrTooManyLines), errors.Is(err, errFileTooLarge):
		code = http.StatusRequestEntityTooLarge
	}
	if code == http.StatusInternalServerError {
		a.log.Error(op, zap.Error(err))
	} else {
		a.log.Warn(op, zap.Error(err))
	}
	http.Error(w, err.Error(), code)
}

func (a *api) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("encode", zap.Error(err))
	}
}

func (a *api) readLines(req *http.Request) ([]string, error) {
	body := io.Reader(req.Body)
	if a.cfg.Program.MaxBytes > 0 {
		body = io.LimitReader(req.Body, a.cfg.Program.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return readLines(bytes.NewReader(data), int64(len(data)), a.cfg.Program)
}

func (a *api) run(w http.ResponseWriter, req *http.Request) {
	lines, err := a.readLines(req)
	if err != nil {
		a.fail(w, "run: read", err)
		return
	}

	lines, res := prepare(req.Context(), a.log, lines, a.cfg, req.FormValue("optimize") == "1")
	if res != nil {
		a.log.Info("optimized", zap.Float64("initial", res.Initial), zap.Float64("final", res.Final))
	}
	if err := a.m.Start(lines); err != nil {
		a.fail(w, "run", err)
		return
	}
	a.writeJSON(w, a.m.Session())
}

func (a *api) control(w http.ResponseWriter, req *http.Request) {
	var err error
	action := mux.Vars(req)["action"]
	switch action {
	case "pause":
		err = a.m.Pause()
	case "resume":
		err = a.m.Resume()
	case "stop":
		err = a.m.Stop()
	}
	if err != nil {
		a.fail(w, action, err)
		return
	}
	a.writeJSON(w, a.m.Session())
}

func (a *api) command(w http.ResponseWriter, req *http.Request) {
	lines, err := a.readLines(req)
	if err != nil {
		a.fail(w, "command: read", err)
		return
	}
	if err := a.m.Command(req.Context(), lines...); err != nil {
		a.fail(w, "command", err)
		return
	}
}

func (a *api) manual(w http.ResponseWriter, req *http.Request) {
	var err error
	action := mux.Vars(req)["action"]
	ctx := req.Context()
	switch action {
	case "home":
		err = a.m.Home(ctx)
	case "unlock":
		err = a.m.Unlock(ctx)
	case "zero":
		err = a.m.SetZero(ctx)
	case "return":
		err = a.m.ReturnToZero(ctx)
	}
	if err != nil {
		a.fail(w, action, err)
		return
	}
	a.writeJSON(w, a.m.Position())
}

func (a *api) jog(w http.ResponseWriter, req *http.Request) {
	var err error
	parse := func(param string) (val float64) {
		s := req.FormValue(param)
		if err != nil || s == "" {
			return 0
		}
		val, err = strconv.ParseFloat(s, 64)
		return val
	}
	d := coord.Point{X: parse("x"), Y: parse("y")}
	feed := parse("feed")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.m.Jog(req.Context(), d, feed); err != nil {
		a.fail(w, "jog", err)
		return
	}
	a.writeJSON(w, a.m.Position())
}

func (a *api) session(w http.ResponseWriter, req *http.Request) {
	a.writeJSON(w, a.m.Session())
}

type positionResponse struct {
	State    machine.State
	Position machine.PositionState
}

func (a *api) position(w http.ResponseWriter, req *http.Request) {
	a.writeJSON(w, positionResponse{State: a.m.CurrentState(), Position: a.m.Position()})
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		a.fail(w, "create "+name, err)
		return
	}
	defer f.Close()
	_, err = io.Copy(f, req.Body)
	if err != nil {
		a.fail(w, "write "+name, err)
		return
	}
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	err := os.Remove(name)
	if err != nil {
		a.fail(w, "delete "+name, err)
		return
	}
}

// newEvents creates the SSE server events are published on.
func newEvents(log *zap.Logger) *sse.Server {
	return sse.NewServer(&sse.Options{
		Logger: zap.NewStdLog(log.Named("sse")),
	})
}
