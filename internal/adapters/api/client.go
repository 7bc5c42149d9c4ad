// Package api talks to the live platform's HTTP API: room lookup, anchor
// info, admin listing and the follower roster.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dkeye/danmaku/internal/core"
	"github.com/dkeye/danmaku/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	pathRoomInit   = "/room/v1/Room/room_init"
	pathRoomInfo   = "/room/v1/Room/get_info"
	pathAnchorInfo = "/live_user/v1/UserInfo/get_anchor_in_room"
	pathAdmins     = "/xlive/web-room/v1/roomAdmin/get_by_room"
	pathFollowers  = "/x/relation/followers"

	maxBody = 4 << 20
)

var errAPI = errors.New("api error")

type Options struct {
	// Host serves the live-room endpoints.
	Host string
	// FansHost serves the follower roster; Host when empty.
	FansHost string
	Timeout  time.Duration
	TLS      bool
}

// Client implements core.RoomResolver and core.FansSource.
type Client struct {
	http     *http.Client
	host     string
	fansHost string
	tls      atomic.Bool
}

var (
	_ core.RoomResolver   = (*Client)(nil)
	_ core.FansSource     = (*Client)(nil)
	_ core.SchemeSwitcher = (*Client)(nil)
)

func NewClient(opts Options) *Client {
	c := &Client{
		http:     &http.Client{Timeout: opts.Timeout},
		host:     opts.Host,
		fansHost: opts.FansHost,
	}
	if c.fansHost == "" {
		c.fansHost = opts.Host
	}
	c.tls.Store(opts.TLS)
	return c
}

// UseTLS switches between http and https for subsequent requests.
func (c *Client) UseTLS(use bool) { c.tls.Store(use) }

func (c *Client) Resolve(ctx context.Context, ref string) (*domain.Room, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty room reference", core.ErrResolution)
	}
	initData, err := c.get(ctx, c.host, pathRoomInit, url.Values{"id": {ref}})
	if err != nil {
		return nil, fmt.Errorf("%w: room_init %s: %v", core.ErrResolution, ref, err)
	}
	room := &domain.Room{
		ID:     domain.RoomID(initData.Get("room_id").Int()),
		Ref:    ref,
		Anchor: domain.User{ID: domain.UserID(initData.Get("uid").Int())},
	}
	if room.ID == 0 {
		return nil, fmt.Errorf("%w: room %s has no id", core.ErrResolution, ref)
	}
	id := strconv.FormatInt(int64(room.ID), 10)

	info, err := c.get(ctx, c.host, pathRoomInfo, url.Values{"room_id": {id}})
	if err != nil {
		return nil, fmt.Errorf("%w: get_info %d: %v", core.ErrResolution, room.ID, err)
	}
	room.Title = info.Get("title").String()
	if room.Anchor.ID == 0 {
		room.Anchor.ID = domain.UserID(info.Get("uid").Int())
	}

	anchor, err := c.get(ctx, c.host, pathAnchorInfo, url.Values{"roomid": {id}})
	if err != nil {
		// The anchor name is cosmetic; the session can run without it.
		log.Warn().Err(err).Str("module", "api").Int64("room", int64(room.ID)).Msg("anchor lookup failed")
	} else {
		room.Anchor.Name = anchor.Get("info.uname").String()
	}

	log.Info().Str("module", "api").Str("ref", ref).Int64("room", int64(room.ID)).Str("title", room.Title).Msg("room resolved")
	return room, nil
}

func (c *Client) Admins(ctx context.Context, id domain.RoomID) ([]domain.Admin, error) {
	data, err := c.get(ctx, c.host, pathAdmins, url.Values{
		"roomid":    {strconv.FormatInt(int64(id), 10)},
		"page":      {"1"},
		"page_size": {"100"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: admins %d: %v", core.ErrResolution, id, err)
	}
	list := data.Get("data").Array()
	out := make([]domain.Admin, 0, len(list))
	for _, a := range list {
		out = append(out, domain.Admin{
			User:  domain.User{ID: domain.UserID(a.Get("uid").Int()), Name: a.Get("uname").String()},
			Since: a.Get("ctime").Int(),
		})
	}
	return out, nil
}

func (c *Client) FetchPage(ctx context.Context, host domain.UserID, page int) (*domain.FansPage, error) {
	data, err := c.get(ctx, c.fansHost, pathFollowers, url.Values{
		"vmid": {strconv.FormatInt(int64(host), 10)},
		"pn":   {strconv.Itoa(page)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrFetch, err)
	}
	list := data.Get("list").Array()
	out := &domain.FansPage{
		Total: data.Get("total").Int(),
		IDs:   make([]domain.UserID, 0, len(list)),
	}
	for _, f := range list {
		out.IDs = append(out.IDs, domain.UserID(f.Get("mid").Int()))
	}
	return out, nil
}

// get performs a GET and returns the "data" member of a code==0 envelope.
func (c *Client) get(ctx context.Context, host, path string, query url.Values) (gjson.Result, error) {
	scheme := "http"
	if c.tls.Load() {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: path, RawQuery: query.Encode()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, fmt.Errorf("%w: %s: status %d", errAPI, path, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: %s: invalid json", errAPI, path)
	}
	doc := gjson.ParseBytes(body)
	if code := doc.Get("code").Int(); code != 0 {
		msg := doc.Get("message").String()
		if msg == "" {
			msg = doc.Get("msg").String()
		}
		return gjson.Result{}, fmt.Errorf("%w: %s: code %d: %s", errAPI, path, code, msg)
	}
	log.Debug().Str("module", "api").Str("path", path).Msg("api response")
	return doc.Get("data"), nil
}
