package engine

import (
	"fmt"

	"github.com/me/slotq/internal/store"
	"github.com/me/slotq/pkg/model"
)

type trackerKey struct {
	tier  model.Tier
	depth model.Depth
	coord uint64
}

// trackerSet is the transient working set of statistics trackers for
// one engine call. Nodes load lazily, mutate in memory and flush back
// in the same transaction, so every depth always reflects the live sum
// of its descendants when the call commits.
type trackerSet struct {
	tx    store.Tx
	nodes map[trackerKey]*model.Tracker
	dirty map[trackerKey]bool
}

func newTrackerSet(tx store.Tx) *trackerSet {
	return &trackerSet{
		tx:    tx,
		nodes: make(map[trackerKey]*model.Tracker),
		dirty: make(map[trackerKey]bool),
	}
}

// node returns the tracker at (tier, depth, coord), materializing a
// zero-valued node for coordinates never written.
func (ts *trackerSet) node(tier model.Tier, depth model.Depth, coord uint64) (*model.Tracker, error) {
	key := trackerKey{tier, depth, coord}
	if n, ok := ts.nodes[key]; ok {
		return n, nil
	}
	n, err := ts.tx.GetTracker(tier, depth, coord)
	if err != nil {
		return nil, fmt.Errorf("load tracker %s/%s/%d: %w", tier, depth, coord, err)
	}
	if n == nil {
		n = &model.Tracker{Tier: tier, Depth: depth, Coord: coord}
	}
	ts.nodes[key] = n
	return n, nil
}

// lineage returns the slot, cohort and division trackers covering a
// slot, in that order.
func (ts *trackerSet) lineage(tier model.Tier, slot model.Slot) (b, c, d *model.Tracker, err error) {
	if b, err = ts.node(tier, model.DepthSlot, uint64(slot)); err != nil {
		return nil, nil, nil, err
	}
	if c, err = ts.node(tier, model.DepthCohort, model.CohortOf(slot)); err != nil {
		return nil, nil, nil, err
	}
	if d, err = ts.node(tier, model.DepthDivision, model.DivisionOf(slot)); err != nil {
		return nil, nil, nil, err
	}
	return b, c, d, nil
}

func (ts *trackerSet) markDirty(n *model.Tracker) {
	ts.dirty[trackerKey{n.Tier, n.Depth, n.Coord}] = true
}

// enqueue accounts for one new task at the slot and returns the queue
// index the task occupies. Occupancy bits propagate upward before the
// transaction commits so no pending leaf is invisible to an ancestor
// scan.
func (ts *trackerSet) enqueue(tier model.Tier, slot model.Slot) (uint64, error) {
	b, c, d, err := ts.lineage(tier, slot)
	if err != nil {
		return 0, err
	}
	idx := b.TotalTasks
	b.TotalTasks++
	c.TotalTasks++
	d.TotalTasks++
	c.Children.Set(int(uint64(slot) % model.TrackerFanout))
	d.Children.Set(int(model.CohortOf(slot) % model.TrackerFanout))
	ts.markDirty(b)
	ts.markDirty(c)
	ts.markDirty(d)
	return idx, nil
}

// recordOutcome folds one consumed queue entry into the slot's tracker
// lineage: executed count, delay and fee accumulators at every depth,
// plus bitmap maintenance when the slot or its cohort drains. Called
// exactly once per consumed entry whether the run succeeded, failed or
// was skipped as cancelled.
func (ts *trackerSet) recordOutcome(tier model.Tier, slot model.Slot, delay uint64, collected, paid model.Fee) error {
	b, c, d, err := ts.lineage(tier, slot)
	if err != nil {
		return err
	}
	for _, n := range [...]*model.Tracker{b, c, d} {
		n.ExecutedTasks++
		n.CumulativeDelay += delay
		n.FeesCollected += collected
		n.FeesPaid += paid
		ts.markDirty(n)
	}
	if b.Drained() {
		c.Children.Clear(int(uint64(slot) % model.TrackerFanout))
		if c.Children.Empty() {
			d.Children.Clear(int(model.CohortOf(slot) % model.TrackerFanout))
		}
	}
	return nil
}

// nextPendingSlot scans for the first slot in (from..limit] order,
// starting at from, whose tracker still holds pending tasks. The scan
// never touches drained slots: it reads the cohort bitmap covering
// from, then walks division bitmaps cohort by cohort, so sparse gaps
// cost bit scans instead of per-slot reads.
func (ts *trackerSet) nextPendingSlot(tier model.Tier, from, limit model.Slot) (model.Slot, bool, error) {
	if from > limit {
		return 0, false, nil
	}

	cohort := model.CohortOf(from)
	c, err := ts.node(tier, model.DepthCohort, cohort)
	if err != nil {
		return 0, false, err
	}
	if bit, ok := c.Children.NextSet(int(uint64(from) % model.TrackerFanout)); ok {
		slot := model.Slot(cohort*model.TrackerFanout + uint64(bit))
		if slot > limit {
			return 0, false, nil
		}
		return slot, true, nil
	}

	// Nothing left in this cohort: walk division bitmaps upward.
	fromBit := int(cohort%model.TrackerFanout) + 1
	for div := model.DivisionOf(from); div <= model.DivisionOf(limit); div++ {
		d, err := ts.node(tier, model.DepthDivision, div)
		if err != nil {
			return 0, false, err
		}
		bit, ok := d.Children.NextSet(fromBit)
		fromBit = 0
		if !ok {
			continue
		}
		nextCohort := div*model.TrackerFanout + uint64(bit)
		c, err := ts.node(tier, model.DepthCohort, nextCohort)
		if err != nil {
			return 0, false, err
		}
		sbit, ok := c.Children.NextSet(0)
		if !ok {
			return 0, false, fmt.Errorf("tracker %s/division/%d marks cohort %d pending but its bitmap is empty", tier, div, nextCohort)
		}
		slot := model.Slot(nextCohort*model.TrackerFanout + uint64(sbit))
		if slot > limit {
			return 0, false, nil
		}
		return slot, true, nil
	}
	return 0, false, nil
}

// pendingAt returns the number of unconsumed queue entries at a slot.
func (ts *trackerSet) pendingAt(tier model.Tier, slot model.Slot) (uint64, error) {
	b, err := ts.node(tier, model.DepthSlot, uint64(slot))
	if err != nil {
		return 0, err
	}
	return b.Pending(), nil
}

// flush writes every mutated tracker back through the transaction.
func (ts *trackerSet) flush() error {
	for key := range ts.dirty {
		if err := ts.tx.PutTracker(ts.nodes[key]); err != nil {
			return fmt.Errorf("flush tracker %s/%s/%d: %w", key.tier, key.depth, key.coord, err)
		}
	}
	return nil
}
