package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"nuha.dev/textgps/internal/gpsv2/device"
	"nuha.dev/textgps/internal/gpsv2/position"
	"nuha.dev/textgps/internal/gpsv2/stat"
	"nuha.dev/textgps/internal/store"
	"nuha.dev/textgps/internal/util"
)

type TrackerIdRequestModel struct {
	TrackerId uint64 `json:"tracker_id" validate:"required"`
}

type PhotoIdRequestModel struct {
	PhotoId uint64 `json:"photo_id" validate:"required"`
}

type TrackerModel struct {
	TrackerId uint64              `json:"tracker_id"`
	Protocol  string              `json:"protocol"`
	UniqueID  string              `json:"unique_id"`
	Config    device.DeviceConfig `json:"config"`
}

type PhotoLinkModel struct {
	Id   string `json:"id"`
	Path string `json:"path"`
}

func (api *Api) GetStats(ctx context.Context, res *stat.Snapshot) error {
	if api.param.Stat == nil {
		return fmt.Errorf("stats: %w", store.ErrNotFound)
	}
	*res = api.param.Stat.Snapshot()
	return nil
}

func (api *Api) GetLatestPosition(ctx context.Context, req *TrackerIdRequestModel, res *position.Position) error {
	if api.param.Latest == nil {
		return fmt.Errorf("latest position: %w", store.ErrNotFound)
	}
	pos, err := api.param.Latest.Latest(ctx, req.TrackerId)
	if err != nil {
		return err
	}
	*res = *pos
	return nil
}

func (api *Api) GetTracker(ctx context.Context, req *TrackerIdRequestModel, res *TrackerModel) error {
	if api.param.Devices == nil {
		return fmt.Errorf("tracker %d: %w", req.TrackerId, store.ErrNotFound)
	}
	d, ok := api.param.Devices.Get(req.TrackerId)
	if !ok {
		return fmt.Errorf("tracker %d: %w", req.TrackerId, store.ErrNotFound)
	}
	*res = TrackerModel{TrackerId: d.TrackerId, Protocol: d.Protocol, UniqueID: d.UniqueID, Config: d.Config}
	return nil
}

// GetPhotoLink turns a stored photo id into its public, unguessable path.
func (api *Api) GetPhotoLink(ctx context.Context, req *PhotoIdRequestModel, res *PhotoLinkModel) error {
	id, err := api.hid.EncodeInt64([]int64{int64(req.PhotoId)})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	res.Id = id
	res.Path = "/photo/" + id
	return nil
}

func (api *Api) ServePhoto(w http.ResponseWriter, r *http.Request) {
	ids, err := api.hid.DecodeInt64WithError(chi.URLParam(r, "hid"))
	if err != nil || len(ids) != 1 || ids[0] <= 0 || api.param.Photos == nil {
		util.JsonError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
		return
	}
	p, err := api.param.Photos.GetPhoto(r.Context(), uint64(ids[0]))
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			code = http.StatusNotFound
		} else {
			api.log.Error().Err(err).Int64("photo", ids[0]).Msg("unable to load photo")
		}
		util.JsonError(w, code, http.StatusText(code))
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(p.Data))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(p.Data)
}
