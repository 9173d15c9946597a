package registry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"gopkg.in/yaml.v3"
	"nuha.dev/textgps/internal/gpsv2/device"
)

const (
	ALLOW_CONNECT_FALSE string = "allow_connect_false"
	NEW_DEVICE_CREATED  string = "new_device_created"
	REGISTER_ERROR      string = "register_error"
	REFRESH_ERROR       string = "refresh_error"
)

type Device struct {
	TrackerId uint64              `yaml:"id"`
	Protocol  string              `yaml:"protocol"`
	UniqueID  string              `yaml:"unique_id"`
	Config    device.DeviceConfig `yaml:"config"`
}

func (d *Device) MarshalObject(e *log.Entry) {
	e.Str("protocol", d.Protocol).Str("unique_id", d.UniqueID).Uint64("tracker_id", d.TrackerId)
}

// DefaultRetryAfter is how long a device whose registration failed waits
// before another attempt.
const DefaultRetryAfter = 30 * time.Second

type RegisterFunc func(ctx context.Context, protocol, unique_id string) (*Device, error)

// Registry maps device identifiers to tracker ids. Lookups only touch memory;
// registration of unknown devices happens on a background goroutine.
type Registry struct {
	mu      sync.RWMutex
	list    map[uint64]*Device
	uidlist map[string]uint64
	// zero time while in flight, retry-after time once failed
	pending     map[string]time.Time
	regc        chan [2]string
	db          *pgxpool.Pool
	register    RegisterFunc
	retry_after time.Duration
	log         log.Logger
}

func uid_key(protocol, unique_id string) string {
	return protocol + ":" + unique_id
}

func NewRegistry(db *pgxpool.Pool, auto_register bool) *Registry {
	r := &Registry{
		list:        make(map[uint64]*Device),
		uidlist:     make(map[string]uint64),
		pending:     make(map[string]time.Time),
		regc:        make(chan [2]string, 64),
		db:          db,
		retry_after: DefaultRetryAfter,
	}
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "registry").Value()
	if auto_register && db != nil {
		r.register = r.add_tracker_default
	}
	return r
}

// SetRegisterFunc replaces how unknown devices are registered. A nil func
// disables registration.
func (r *Registry) SetRegisterFunc(f RegisterFunc) {
	r.register = f
}

func (r *Registry) Add(d Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := uid_key(d.Protocol, d.UniqueID)
	if old, ok := r.uidlist[key]; ok && old != d.TrackerId {
		delete(r.list, old)
	}
	r.uidlist[key] = d.TrackerId
	r.list[d.TrackerId] = &d
	delete(r.pending, key)
}

func (r *Registry) Get(tid uint64) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.list[tid]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.list)
}

// Config returns the device config, or the default one for unknown ids.
func (r *Registry) Config(tid uint64) device.DeviceConfig {
	if d, ok := r.Get(tid); ok {
		return d.Config
	}
	return device.DefaultDeviceConfig()
}

func (r *Registry) Resolve(protocol, unique_id string) (uint64, bool) {
	key := uid_key(protocol, unique_id)
	r.mu.RLock()
	tid, ok := r.uidlist[key]
	var d *Device
	if ok {
		d = r.list[tid]
	}
	pending := r.is_pending(key, time.Now())
	r.mu.RUnlock()
	if ok {
		if !d.Config.AllowConnect {
			r.log.Debug().Str("event", ALLOW_CONNECT_FALSE).EmbedObject(d).Msg("")
			return 0, false
		}
		return tid, true
	}
	if r.register != nil && !pending {
		r.mu.Lock()
		pending = r.is_pending(key, time.Now())
		if !pending {
			r.pending[key] = time.Time{}
		}
		r.mu.Unlock()
		if pending {
			return 0, false
		}
		select {
		case r.regc <- [2]string{protocol, unique_id}:
		default:
			r.mu.Lock()
			delete(r.pending, key)
			r.mu.Unlock()
		}
	}
	return 0, false
}

// is_pending reports whether key is being registered or waiting for its
// retry time, mu must be held.
func (r *Registry) is_pending(key string, now time.Time) bool {
	t, ok := r.pending[key]
	if !ok {
		return false
	}
	return t.IsZero() || now.Before(t)
}

// Run registers unknown devices and, with a database, reloads the tracker
// table every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	go func() {
		var tick <-chan time.Time
		if r.db != nil && interval > 0 {
			t := time.NewTicker(interval)
			defer t.Stop()
			tick = t.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-r.regc:
				r.handle_register(ctx, req[0], req[1])
			case <-tick:
				if err := r.Load(ctx); err != nil {
					r.log.Error().Err(err).Str("event", REFRESH_ERROR).Msg("")
				}
			}
		}
	}()
}

func (r *Registry) handle_register(ctx context.Context, protocol, unique_id string) {
	if r.register == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	d, err := r.register(ctx, protocol, unique_id)
	if err != nil {
		r.log.Error().Err(err).Str("event", REGISTER_ERROR).Str("protocol", protocol).Str("unique_id", unique_id).Msg("")
		r.mu.Lock()
		r.pending[uid_key(protocol, unique_id)] = time.Now().Add(r.retry_after)
		r.mu.Unlock()
		return
	}
	r.Add(*d)
	r.log.Info().Str("event", NEW_DEVICE_CREATED).EmbedObject(d).Msg("")
}

// Load replaces the known devices with the content of the tracker table.
func (r *Registry) Load(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	rows, err := r.db.Query(ctx, `SELECT id, protocol, unique_id, config FROM tracker`)
	if err != nil {
		return fmt.Errorf("query tracker: %w", err)
	}
	defer rows.Close()
	devices := make([]Device, 0)
	for rows.Next() {
		d := Device{Config: device.DefaultDeviceConfig()}
		if err := rows.Scan(&d.TrackerId, &d.Protocol, &d.UniqueID, &d.Config); err != nil {
			return fmt.Errorf("scan tracker: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read tracker: %w", err)
	}
	for _, d := range devices {
		r.Add(d)
	}
	return nil
}

func (r *Registry) add_tracker_default(ctx context.Context, protocol, unique_id string) (*Device, error) {
	d := &Device{Protocol: protocol, UniqueID: unique_id, Config: device.DefaultDeviceConfig()}
	query := `INSERT INTO tracker(protocol, unique_id, config)
	SELECT $1, $2, config FROM config_template WHERE name='tracker_default_config'
	ON CONFLICT (protocol, unique_id) DO UPDATE SET protocol = EXCLUDED.protocol
	RETURNING id, config`
	err := r.db.QueryRow(ctx, query, protocol, unique_id).Scan(&d.TrackerId, &d.Config)
	if err != nil {
		return nil, err
	}
	return d, nil
}

type deviceFile struct {
	Devices []struct {
		TrackerId uint64               `yaml:"id"`
		Protocol  string               `yaml:"protocol"`
		UniqueID  string               `yaml:"unique_id"`
		Config    *device.DeviceConfig `yaml:"config"`
	} `yaml:"devices"`
}

// LoadFile adds the devices listed in a yaml file. Entries without a config
// get the default one.
func (r *Registry) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f deviceFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for i, e := range f.Devices {
		if e.TrackerId == 0 || e.Protocol == "" || e.UniqueID == "" {
			return fmt.Errorf("parse %s: device %d needs id, protocol and unique_id", path, i)
		}
		d := Device{TrackerId: e.TrackerId, Protocol: e.Protocol, UniqueID: e.UniqueID, Config: device.DefaultDeviceConfig()}
		if e.Config != nil {
			d.Config = *e.Config
		}
		r.Add(d)
	}
	return nil
}
