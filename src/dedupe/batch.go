package dedupe

// Batch checks a run of transactions against one candidate set. A candidate
// matched once is consumed and cannot absorb a second transaction.
type Batch struct {
	engine   *Engine
	index    *Index
	consumed ConsumedSet
}

func (e *Engine) NewBatch(candidates []Candidate) *Batch {
	return &Batch{
		engine:   e,
		index:    NewIndex(e.cfg.WindowDays, candidates),
		consumed: make(ConsumedSet),
	}
}

func (b *Batch) Detect(txn Candidate) Result {
	nearby := b.index.Lookup(txn.Amount, txn.Date)
	available := nearby[:0:0]
	for _, c := range nearby {
		if !b.consumed.Contains(c.ID) {
			available = append(available, c)
		}
	}

	res := b.engine.DetectDuplicate(txn, available)
	if res.Match != nil {
		b.consumed.Add(res.Match.ID)
	}
	return res
}
