package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	sio "github.com/zishang520/socket.io/v2/socket"
)

const (
	boardRoom      = "board"
	defaultHistory = time.Minute
)

type voltageRequest struct {
	Voltage float64 `json:"voltage"`
}

type sliderRequest struct {
	Percent float64 `json:"percent"`
}

// NewRouter serves the board state to the UI and takes its input events.
func NewRouter(circuit *Circuit, db *DB) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		states, err := db.States()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]interface{}{
			"name":    circuit.Config.Name,
			"sheet":   circuit.Config.Sheet,
			"width":   circuit.Config.Width,
			"height":  circuit.Config.Height,
			"devices": states,
		})
	}).Methods(http.MethodGet)

	router.HandleFunc("/devices/{name}", func(w http.ResponseWriter, r *http.Request) {
		state, err := db.State(mux.Vars(r)["name"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, state)
	}).Methods(http.MethodGet)

	router.HandleFunc("/devices/{name}/history", func(w http.ResponseWriter, r *http.Request) {
		since := defaultHistory
		if s := r.URL.Query().Get("since"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil || d <= 0 {
				http.Error(w, "invalid since "+strconv.Quote(s), http.StatusBadRequest)
				return
			}
			since = d
		}
		history, err := circuit.History(mux.Vars(r)["name"], since)
		if errors.Is(err, ErrUnknownDevice) {
			writeError(w, err)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, history)
	}).Methods(http.MethodGet)

	router.HandleFunc("/buttons/{name}/{action:press|release}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		var err error
		if vars["action"] == "press" {
			err = circuit.Press(vars["name"])
		} else {
			err = circuit.Release(vars["name"])
		}
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	router.HandleFunc("/adcs/{name}/channels/{channel:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		channel, _ := strconv.Atoi(vars["channel"])
		var req voltageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := circuit.SetVoltage(vars["name"], channel, req.Voltage); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPut)

	router.HandleFunc("/adcs/{name}/slider", func(w http.ResponseWriter, r *http.Request) {
		var req sliderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := circuit.SetSlider(mux.Vars(r)["name"], req.Percent); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPut)

	return router
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println(err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnknownDevice) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// NewSocketServer pushes device changes to clients in the board room and
// accepts the same input events as the HTTP routes.
func NewSocketServer(circuit *Circuit, db *DB) *sio.Server {
	socketServer := sio.NewServer(nil, nil)

	circuit.OnUpdate(func(state DeviceState) {
		socketServer.To(boardRoom).Emit("device", state)
	})

	socketServer.On("connection", func(clients ...any) {
		socket := clients[0].(*sio.Socket)

		socket.Emit("connected", "Connected to "+circuit.Config.Name)
		log.Printf("Socket %v connected\n", socket.Id())

		socket.On("joinRoom", func(data ...any) {
			room, ok := firstString(data)
			if !ok {
				return
			}
			socket.Join(sio.Room(room))
		})

		socket.On("getDevices", func(a ...any) {
			states, err := db.States()
			if err != nil {
				log.Println(err)
				return
			}
			socket.Emit("devices", states)
		})

		socket.On("getHistory", func(data ...any) {
			name, ok := firstString(data)
			if !ok {
				return
			}
			history, err := circuit.History(name, defaultHistory)
			if err != nil {
				log.Println(err)
				return
			}
			socket.Emit("history", map[string]interface{}{"name": name, "series": history})
		})

		socket.On("press", func(data ...any) {
			if name, ok := firstString(data); ok {
				logEventError(circuit.Press(name))
			}
		})

		socket.On("release", func(data ...any) {
			if name, ok := firstString(data); ok {
				logEventError(circuit.Release(name))
			}
		})

		socket.On("setVoltage", func(data ...any) {
			defer func() {
				if r := recover(); r != nil {
					log.Println("Recovered in setVoltage", r)
				}
			}()
			req := data[0].(map[string]interface{})
			logEventError(circuit.SetVoltage(req["name"].(string), int(req["channel"].(float64)), req["voltage"].(float64)))
		})

		socket.On("setSlider", func(data ...any) {
			defer func() {
				if r := recover(); r != nil {
					log.Println("Recovered in setSlider", r)
				}
			}()
			req := data[0].(map[string]interface{})
			logEventError(circuit.SetSlider(req["name"].(string), req["percent"].(float64)))
		})
	})

	return socketServer
}

func firstString(data []any) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	s, ok := data[0].(string)
	return s, ok
}

func logEventError(err error) {
	if err != nil {
		log.Println(err)
	}
}

func NewHandler(circuit *Circuit, db *DB) http.Handler {
	router := NewRouter(circuit, db)
	socketServer := NewSocketServer(circuit, db)
	router.Handle("/socket.io/", socketServer.ServeHandler(nil))
	router.Use(requestLogger)
	return handlers.CORS(handlers.AllowedOrigins([]string{"*"}))(router)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%v %v from %v\n", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
