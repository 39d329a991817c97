package ban

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/cornchan/cornchan/internal/store"
	"github.com/cornchan/cornchan/pkg/logging"
	"github.com/cornchan/cornchan/pkg/telemetry"
)

// ErrBanned is returned by Check while a ban on the address is active
var ErrBanned = errors.New("banned")

// DigestSize is the length of a ban table key, a SHA3-224 sum
const DigestSize = 28

// Digest hashes the textual form of an address into a ban table key
func Digest(ip string) [DigestSize]byte {
	return sha3.Sum224([]byte(ip))
}

// Gate checks callers against the banned_ips table. Records are removed
// lazily, the first time they are seen past their expiry.
type Gate struct {
	store  store.Store
	now    func() time.Time
	logger *zap.Logger
}

// NewGate creates a ban gate over s
func NewGate(s store.Store) *Gate {
	return &Gate{
		store:  s,
		now:    time.Now,
		logger: logging.WithComponent("ban"),
	}
}

// Check returns nil when ip may post, ErrBanned while a ban is active
func (g *Gate) Check(ctx context.Context, ip string) error {
	d := Digest(ip)
	key := string(d[:])

	raw, err := g.store.Get(ctx, store.TableBannedIPs, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	expiry, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ban record: %w", err)
	}

	if expiry > g.now().Unix() {
		telemetry.RecordBanBlocked(ctx)
		return ErrBanned
	}

	if err := g.store.Delete(ctx, store.TableBannedIPs, key); err != nil {
		return err
	}
	g.logger.Debug("Expired ban removed", zap.Int64("expired_at", expiry))
	return nil
}

// Ban blocks ip until the given time
func (g *Gate) Ban(ctx context.Context, ip string, until time.Time) error {
	d := Digest(ip)
	value := strconv.FormatInt(until.Unix(), 10)
	if err := g.store.Put(ctx, store.TableBannedIPs, string(d[:]), []byte(value)); err != nil {
		return err
	}
	g.logger.Info("Address banned", zap.Time("until", until))
	return nil
}

// Unban removes any ban on ip
func (g *Gate) Unban(ctx context.Context, ip string) error {
	d := Digest(ip)
	return g.store.Delete(ctx, store.TableBannedIPs, string(d[:]))
}
