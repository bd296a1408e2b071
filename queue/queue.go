/*
Package queue は、接続が確立されるまで送信メッセージを保持するメッセージキューを提供するパッケージです。

キューは上限付きで、IDによる重複排除と有効期限による破棄を行います。
優先度の高いエンベロープは低いエンベロープより前に挿入され、同じ優先度の間では投入順が保たれます。
*/
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/aptpod/wsconn-go/log"
	"github.com/aptpod/wsconn-go/message"
	"github.com/aptpod/wsconn-go/storage"
)

// Configは、キューの設定です。
type Config struct {
	// MaxSizeは、保持するエンベロープの最大数です。0の場合は全て破棄します。
	MaxSize int
	// Deduplicationは、同じIDのエンベロープを拒否するかどうかです。
	Deduplication bool
	// MessageExpiryは、有効期限が設定されていないエンベロープへ投入時に設定する有効期間です。0の場合は期限なしです。
	MessageExpiry time.Duration

	// Storeは、キューの内容を永続化するストアです。nilの場合は永続化しません。
	Store storage.Store
	// StorageKeyは、ストアへ保存する際のキーです。
	StorageKey string
	// OnPersistErrorは、永続化に失敗した際に呼び出されます。
	OnPersistError func(error)

	Logger log.Logger
	// Nowは、現在時刻関数です。nilの場合は time.Now を使用します。
	Now func() time.Time
}

type entry struct {
	env message.Envelope
	seq int64
}

// requeueSpan separates successive runs of requeued entries.
const requeueSpan = 1 << 32

// Queueは、送信待ちのエンベロープを保持するキューです。
//
// 複数のゴルーチンから同時に呼び出されても安全です。
type Queue struct {
	cfg    Config
	logger log.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries []entry
	ids     map[string]struct{}
	seq     int64

	// Requeued entries take seqs below every other entry. A run lasts until
	// the next successful Drain so that later failures keep write order.
	low        int64
	front      int64
	requeueing bool

	persister *persister
}

// Newは、キューを返却します。
//
// Config.Storeが設定されている場合は、永続化用のゴルーチンを開始します。終了する際は必ずCloseを呼び出して下さい。
func New(cfg Config) *Queue {
	if cfg.MaxSize < 0 {
		cfg.MaxSize = 0
	}
	q := &Queue{
		cfg:    cfg,
		logger: cfg.Logger,
		now:    cfg.Now,
		ids:    map[string]struct{}{},
	}
	if q.logger == nil {
		q.logger = log.NewNop()
	}
	if q.now == nil {
		q.now = time.Now
	}
	if cfg.Store != nil {
		q.persister = newPersister(cfg.Store, cfg.StorageKey, q.logger, cfg.OnPersistError)
	}
	return q
}

// Enqueueは、エンベロープをキューへ投入します。
//
// 重複排除によって拒否された場合、acceptedはfalseです。
// 上限を超えた場合は投入順で最も古いエンベロープから追い出し、evictedとして返却します。
func (q *Queue) Enqueue(env message.Envelope) (accepted bool, evicted []message.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	accepted, evicted = q.insertLocked(env, q.seq)
	if accepted {
		q.persistLocked()
	}
	return accepted, evicted
}

// Requeueは、送信に失敗したエンベロープを同じ優先度の先頭側へ戻します。
//
// 直前のDrain以降に戻したエンベロープの後ろ、まだ送信していないエンベロープの前に挿入されます。
// 送信した順に呼び出すことで、元の送信順が保たれます。
// 戻り値の意味はEnqueueと同じです。
func (q *Queue) Requeue(env message.Envelope) (accepted bool, evicted []message.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.requeueing {
		q.low -= requeueSpan
		q.front = q.low
		q.requeueing = true
	}
	q.front++
	accepted, evicted = q.insertLocked(env, q.front)
	if accepted {
		q.persistLocked()
	}
	return accepted, evicted
}

// insertLocked keeps entries ordered by priority, then seq.
func (q *Queue) insertLocked(env message.Envelope, seq int64) (bool, []message.Envelope) {
	if q.cfg.Deduplication {
		if _, ok := q.ids[env.ID]; ok {
			return false, nil
		}
	}
	now := q.now()
	env.Priority = env.Priority.Normalize()
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = now
	}
	if env.ExpiresAt.IsZero() && q.cfg.MessageExpiry > 0 {
		env.ExpiresAt = env.EnqueuedAt.Add(q.cfg.MessageExpiry)
	}

	e := entry{env: env, seq: seq}
	pos := len(q.entries)
	for i, v := range q.entries {
		if env.Priority < v.env.Priority || (env.Priority == v.env.Priority && seq < v.seq) {
			pos = i
			break
		}
	}
	q.entries = append(q.entries, entry{})
	copy(q.entries[pos+1:], q.entries[pos:])
	q.entries[pos] = e
	q.ids[env.ID] = struct{}{}

	var evicted []message.Envelope
	for len(q.entries) > q.cfg.MaxSize {
		evicted = append(evicted, q.removeLocked(q.oldestLocked()))
	}
	return true, evicted
}

func (q *Queue) oldestLocked() int {
	oldest := 0
	for i := range q.entries {
		if q.entries[i].seq < q.entries[oldest].seq {
			oldest = i
		}
	}
	return oldest
}

func (q *Queue) removeLocked(i int) message.Envelope {
	env := q.entries[i].env
	copy(q.entries[i:], q.entries[i+1:])
	q.entries[len(q.entries)-1] = entry{}
	q.entries = q.entries[:len(q.entries)-1]
	delete(q.ids, env.ID)
	return env
}

// Drainは、先頭から順にエンベロープをsendへ渡し、成功したものをキューから取り除きます。
//
// 有効期限切れのエンベロープは送信せずに取り除き、expiredとして返却します。
// sendがエラーを返却した場合は、そのエンベロープ以降をキューに残したままエラーを返却します。
// sendの中でキューを操作してはいけません。
func (q *Queue) Drain(send func(message.Envelope) error) (sent int, expired []message.Envelope, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return 0, nil, nil
	}
	defer q.persistLocked()

	now := q.now()
	for len(q.entries) > 0 {
		env := q.entries[0].env
		if env.Expired(now) {
			expired = append(expired, q.removeLocked(0))
			continue
		}
		if err := send(env); err != nil {
			q.entries[0].env.RetryCount++
			q.logger.Debugf(context.Background(), "Drain stopped after %d message(s): %v", sent, err)
			return sent, expired, err
		}
		q.removeLocked(0)
		q.requeueing = false
		sent++
	}
	if len(expired) > 0 {
		q.logger.Debugf(context.Background(), "Drain dropped %d expired message(s)", len(expired))
	}
	return sent, expired, nil
}

// Sweepは、有効期限切れのエンベロープを取り除き、取り除いたエンベロープを返却します。
func (q *Queue) Sweep() []message.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var expired []message.Envelope
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.env.Expired(now) {
			expired = append(expired, e.env)
			delete(q.ids, e.env.ID)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = entry{}
	}
	q.entries = kept
	if len(expired) > 0 {
		q.persistLocked()
	}
	return expired
}

// Clearは、全てのエンベロープを取り除きます。
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
	q.ids = map[string]struct{}{}
	q.persistLocked()
}

// Discardは、永続化された内容を変更せずにメモリ上のエンベロープを全て取り除きます。
//
// 破棄したConnのキューを、同じストアから後で復元できるようにする場合に使用します。
func (q *Queue) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
	q.ids = map[string]struct{}{}
}

// Lenは、保持しているエンベロープの数を返却します。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshotは、送信順に並んだエンベロープの複製を返却します。
func (q *Queue) Snapshot() []message.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() []message.Envelope {
	res := make([]message.Envelope, len(q.entries))
	for i, e := range q.entries {
		res[i] = e.env.Clone()
	}
	return res
}

// Restoreは、ストアに保存されている内容をキューへ読み込み、読み込んだ数を返却します。
//
// 有効期限切れのエンベロープは読み込みません。Storeが設定されていない場合は何もしません。
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.cfg.Store == nil {
		return 0, nil
	}
	envs, err := q.cfg.Store.Load(ctx, q.cfg.StorageKey)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var restored int
	for _, env := range envs {
		if env.Expired(now) {
			continue
		}
		q.seq++
		if ok, _ := q.insertLocked(env, q.seq); ok {
			restored++
		}
	}
	if len(envs) > 0 {
		q.persistLocked()
	}
	q.logger.Infof(ctx, "Restored %d of %d persisted message(s)", restored, len(envs))
	return restored, nil
}

func (q *Queue) persistLocked() {
	if q.persister == nil {
		return
	}
	q.persister.schedule(q.snapshotLocked())
}

// Closeは、保留中の永続化を完了させて永続化用のゴルーチンを停止します。
func (q *Queue) Close(ctx context.Context) error {
	if q.persister == nil {
		return nil
	}
	return q.persister.close(ctx)
}
