package search

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httputil"
	"time"

	"go.uber.org/zap"
)

// ResponseStore persists dumped HTTP responses by request hash.
type ResponseStore interface {
	GetResponse(hash string, now int64) ([]byte, bool)
	StoreResponse(hash string, res []byte, expiry int64)
	DeleteBefore(expiry int64)
}

// ReqCache replays successful provider responses for identical requests.
// A nil *ReqCache fetches straight from the network.
type ReqCache struct {
	store ResponseStore
	log   *zap.Logger
	now   func() time.Time
}

func NewReqCache(store ResponseStore, log *zap.Logger) *ReqCache {
	return &ReqCache{
		store: store,
		log:   log.Named("cache"),
		now:   time.Now,
	}
}

// Run purges expired responses once an hour until ctx is done.
func (rc *ReqCache) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		rc.store.DeleteBefore(rc.now().Unix())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (rc *ReqCache) CachedFetch(req *http.Request, client *http.Client, ttl time.Duration) (*http.Response, error) {
	if rc == nil || rc.store == nil || ttl <= 0 {
		return client.Do(req)
	}
	reqBytes, _ := httputil.DumpRequest(req, true)
	md5Hash := md5.Sum(reqBytes)
	reqHash := hex.EncodeToString(md5Hash[:])
	data, ok := rc.store.GetResponse(reqHash, rc.now().Unix())
	if ok {
		res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), req)
		if err == nil {
			rc.log.Debug("HIT", zap.String("host", req.URL.Host))
			return res, nil
		}
		rc.log.Warn("Problems decoding cached result", zap.Error(err))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	respBytes, err := httputil.DumpResponse(resp, true)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	rc.log.Debug("MISS", zap.String("host", req.URL.Host))
	rc.store.StoreResponse(reqHash, respBytes, rc.now().Add(ttl).Unix())
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(respBytes)), req)
}
