package web

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	hashids "github.com/speps/go-hashids/v2"
	"nuha.dev/textgps/internal/cache"
	"nuha.dev/textgps/internal/gpsv2/registry"
	"nuha.dev/textgps/internal/gpsv2/stat"
	"nuha.dev/textgps/internal/store"
	"nuha.dev/textgps/internal/util"
)

type ApiConfig struct {
	ListenAddr string
	// ApiKeyHash is a bcrypt hash, an empty hash disables the key check.
	ApiKeyHash string
	HashidSalt string
}

type Devices interface {
	Get(tid uint64) (registry.Device, bool)
}

type Param struct {
	Latest  cache.Latest
	Photos  store.PhotoStore
	Devices Devices
	Stat    *stat.Stat
}

type Api struct {
	r      chi.Router
	s      *http.Server
	config *ApiConfig
	log    log.Logger
	vld    *validator.Validate
	hid    *hashids.HashID
	param  Param

	keymu sync.Mutex
	keys  map[string]bool
}

func NewApi(param *Param, config *ApiConfig) (*Api, error) {
	api := &Api{config: config, param: *param}
	api.log = log.DefaultLogger
	api.log.Context = log.NewContext(nil).Str("module", "api-server").Value()
	api.vld = validator.New()
	api.keys = make(map[string]bool)

	hd := hashids.NewData()
	hd.Salt = config.HashidSalt
	hd.MinLength = 8
	hid, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, err
	}
	api.hid = hid
	if config.ApiKeyHash == "" {
		api.log.Warn().Msg("api key check is disabled")
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	disp := NewDispatcher(api.vld, api.log)
	disp.Add("GetStats", api.GetStats)
	disp.Add("GetLatestPosition", api.GetLatestPosition)
	disp.Add("GetTracker", api.GetTracker)
	disp.Add("GetPhotoLink", api.GetPhotoLink)

	r.With(api.key_verify).Post("/func/{name}", func(w http.ResponseWriter, r *http.Request) {
		disp.Call(chi.URLParam(r, "name"), w, r)
	})
	r.Get("/photo/{hid}", api.ServePhoto)

	api.r = r
	api.s = &http.Server{
		Addr:    config.ListenAddr,
		Handler: r,
		// no read or write timeout, they would stay on hijacked stream connections
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return api, nil
}

// Mount adds a handler that does its own authentication, like the position
// stream.
func (api *Api) Mount(pattern string, h http.Handler) {
	api.r.Handle(pattern, h)
}

func (api *Api) Handler() http.Handler {
	return api.r
}

func (api *Api) Run() error {
	api.log.Info().Msgf("starting api-server on : %s", api.s.Addr)
	err := api.s.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (api *Api) Shutdown(ctx context.Context) error {
	return api.s.Shutdown(ctx)
}

// CheckKey reports whether key matches the configured hash. Accepted keys are
// remembered, bcrypt is too slow to run on every request.
func (api *Api) CheckKey(key string) bool {
	if api.config.ApiKeyHash == "" {
		return true
	}
	if key == "" {
		return false
	}
	api.keymu.Lock()
	defer api.keymu.Unlock()
	if ok, seen := api.keys[key]; seen {
		return ok
	}
	ok := util.CheckPwd(api.config.ApiKeyHash, key)
	if ok {
		api.keys[key] = true
	}
	return ok
}

func (api *Api) key_verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !api.CheckKey(key) {
			api.log.Debug().Str("remote", r.RemoteAddr).Msg("rejected api key")
			util.JsonError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}
