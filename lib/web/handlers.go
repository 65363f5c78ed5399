package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gotmc/labdaq/lib/config"
	"github.com/gotmc/labdaq/lib/csvlog"
	"github.com/gotmc/labdaq/lib/drivers"
	"github.com/gotmc/labdaq/lib/proc"
	"go.uber.org/zap"
)

// startWait bounds how long a run start waits for the data file.
const startWait = 10 * time.Second

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleConfigs(w http.ResponseWriter, _ *http.Request) {
	names, err := listDir(s.cfg.Config, ".yaml", ".yml")
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{"configs": names})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.URL.Query().Get("file"))
	if name == "." || name == "/" {
		httpError(w, http.StatusBadRequest, fmt.Errorf("missing file parameter"))
		return
	}
	path := filepath.Join(s.cfg.Config, name)
	cfg, err := config.Load(path)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{
		"file": name,
		"name": cfg.Name,
		"keys": cfg.Keys(),
		"raw":  string(raw),
	})
}

func (s *Server) handleData(w http.ResponseWriter, _ *http.Request) {
	names, err := listDir(s.cfg.Data, ".csv")
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{"files": names})
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.URL.Query().Get("file"))
	if name == "." || name == "/" {
		httpError(w, http.StatusBadRequest, fmt.Errorf("missing file parameter"))
		return
	}
	frame, err := csvlog.ReadFrame(filepath.Join(s.cfg.Data, name))
	if err != nil {
		httpError(w, http.StatusNotFound, err)
		return
	}
	if win := r.URL.Query().Get("window"); win != "" {
		secs, err := strconv.ParseFloat(win, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, fmt.Errorf("invalid window %q", win))
			return
		}
		frame = frame.Window(secs)
	}
	writeJSON(w, frameJSON(name, frame))
}

func frameJSON(name string, frame *csvlog.Frame) map[string]any {
	columns := map[string]any{}
	var keys []string
	for i, key := range frame.Keys {
		if key == "datetime" {
			stamps := make([]string, 0, len(frame.Rows))
			for _, row := range frame.Rows {
				if i < len(row) {
					stamps = append(stamps, row[i])
				}
			}
			columns[key] = stamps
			continue
		}
		columns[key] = frame.Column(key)
		if key != "time" {
			keys = append(keys, key)
		}
	}
	last := map[string]string{}
	for _, key := range frame.Keys {
		if v, ok := frame.Last(key); ok {
			last[key] = v
		}
	}
	var elapsed float64
	if times := frame.Column("time"); len(times) > 0 {
		elapsed = times[len(times)-1] - times[0]
	}
	return map[string]any{
		"file":    name,
		"keys":    keys,
		"columns": columns,
		"last":    last,
		"elapsed": elapsed,
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	entries, err := os.ReadDir(s.cfg.Device)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	writeJSON(w, map[string]any{"devices": names})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(mux.Vars(r)["name"])
	dev, err := drivers.OpenVirtual(filepath.Join(s.cfg.Device, name))
	if err != nil {
		httpError(w, http.StatusNotFound, err)
		return
	}
	values := map[string]float64{}
	for _, q := range dev.Quantities() {
		v, err := dev.Measure(r.Context(), q)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		values[q] = v
	}
	writeJSON(w, map[string]any{
		"device":     name,
		"quantities": dev.Quantities(),
		"values":     values,
	})
}

func (s *Server) handleLog(w http.ResponseWriter, _ *http.Request) {
	names, err := listDir(s.cfg.Log, ".log")
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	if len(names) == 0 {
		writeJSON(w, map[string]any{"file": "", "text": ""})
		return
	}
	newest := names[len(names)-1]
	text, err := tailFile(filepath.Join(s.cfg.Log, newest), 64*1024)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{"file": newest, "text": text})
}

type runStartRequest struct {
	Config string `json:"config"`
	Name   string `json:"name"`
}

func (s *Server) handleRunStart(w http.ResponseWriter, r *http.Request) {
	var req runStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	cfgName := filepath.Base(req.Config)
	cfgPath := filepath.Join(s.cfg.Config, cfgName)
	if _, err := config.Load(cfgPath); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}

	before, err := listDir(s.cfg.Data, ".csv")
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}

	args := []string{"run", "--config", cfgPath, "--base-dir", s.cfg.Base}
	if req.Name != "" {
		args = append(args, "--name", req.Name)
	}
	child, err := s.sup.Start(proc.RoleRun, s.bin, args...)
	if err != nil {
		httpError(w, http.StatusConflict, err)
		return
	}

	// Wait for the run to produce its data file, as long as it lives.
	dataFile, err := s.waitForDataFile(before, child)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	s.pushStatus()
	writeJSON(w, map[string]any{"pid": child.PID, "data_file": dataFile})
}

func (s *Server) waitForDataFile(before []string, child *proc.Child) (string, error) {
	seen := map[string]bool{}
	for _, f := range before {
		seen[f] = true
	}
	deadline := time.Now().Add(startWait)
	for time.Now().Before(deadline) {
		names, err := listDir(s.cfg.Data, ".csv")
		if err != nil {
			return "", err
		}
		for _, f := range names {
			if !seen[f] {
				return f, nil
			}
		}
		if !s.sup.Alive(proc.RoleRun) {
			return "", fmt.Errorf("run exited before producing a data file: %v", child.Err())
		}
		time.Sleep(100 * time.Millisecond)
	}
	return "", fmt.Errorf("run produced no data file within %s", startWait)
}

func (s *Server) handleRunStop(w http.ResponseWriter, _ *http.Request) {
	// A live ramp controller dies with the run it steers.
	if err := s.sup.Stop(proc.RoleRamp, stopGrace); err != nil {
		s.log.Warn("stopping ramp", zap.Error(err))
	}
	if err := s.sup.Stop(proc.RoleRun, stopGrace); err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	s.clearDevices()
	s.pushStatus()
	writeJSON(w, map[string]any{"stopped": true})
}

// clearDevices removes leftover virtual device files so the next run
// starts from a clean device directory.
func (s *Server) clearDevices() {
	entries, err := os.ReadDir(s.cfg.Device)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.Device, e.Name())); err != nil {
			s.log.Warn("removing device file", zap.String("file", e.Name()), zap.Error(err))
		}
	}
}

type rampStartRequest struct {
	Device   string  `json:"device"`
	Quantity string  `json:"quantity"`
	Value    float64 `json:"value"`
	Step     float64 `json:"step"`
	Time     float64 `json:"time"`
}

func (s *Server) handleRampStart(w http.ResponseWriter, r *http.Request) {
	var req rampStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if !s.sup.Alive(proc.RoleRun) {
		httpError(w, http.StatusConflict, fmt.Errorf("no live run to ramp against"))
		return
	}
	if req.Device == "" || req.Quantity == "" {
		httpError(w, http.StatusBadRequest, fmt.Errorf("device and quantity are required"))
		return
	}

	args := []string{
		"ramp",
		"--base-dir", s.cfg.Base,
		"--device", filepath.Base(req.Device),
		"--quantity", req.Quantity,
		"--value", strconv.FormatFloat(req.Value, 'g', -1, 64),
	}
	if req.Step != 0 {
		args = append(args, "--step", strconv.FormatFloat(req.Step, 'g', -1, 64))
	}
	if req.Time != 0 {
		args = append(args, "--time", strconv.FormatFloat(req.Time, 'g', -1, 64))
	}
	child, err := s.sup.Start(proc.RoleRamp, s.bin, args...)
	if err != nil {
		httpError(w, http.StatusConflict, err)
		return
	}
	s.pushStatus()
	writeJSON(w, map[string]any{"pid": child.PID})
}

func (s *Server) handleRampStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.sup.Stop(proc.RoleRamp, stopGrace); err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	s.pushStatus()
	writeJSON(w, map[string]any{"stopped": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) status() map[string]any {
	st := map[string]any{
		"run":  roleStatus(s.sup, proc.RoleRun),
		"ramp": roleStatus(s.sup, proc.RoleRamp),
	}
	if names, err := listDir(s.cfg.Data, ".csv"); err == nil && len(names) > 0 {
		st["data_file"] = names[len(names)-1]
	}
	return st
}

func roleStatus(sup *proc.Supervisor, role string) map[string]any {
	st := map[string]any{"alive": sup.Alive(role)}
	if c := sup.Get(role); c != nil {
		st["pid"] = c.PID
	}
	return st
}

// listDir returns the file names in dir carrying one of the extensions,
// sorted ascending, which for stamped names means oldest first.
func listDir(dir string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, ext := range exts {
			if strings.HasSuffix(e.Name(), ext) {
				names = append(names, e.Name())
				break
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// tailFile returns up to max trailing bytes of the file, starting on a
// line boundary when it has to cut.
func tailFile(path string, max int64) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if int64(len(b)) > max {
		b = b[int64(len(b))-max:]
		if i := strings.IndexByte(string(b), '\n'); i >= 0 {
			b = b[i+1:]
		}
	}
	return string(b), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
