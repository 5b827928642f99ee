package dataset

import (
	"fmt"
	"math/rand"
)

// Split partitions every persona's observations into a label-balanced steer
// set (nSteerPerPersona/2 from each class, sampled without replacement,
// deterministic given seed) and a test set holding the remainder. Steer and
// test are disjoint by observation ID and their union is the full dataset.
// Returns an InsufficientDataError when any persona cannot fill either class.
func (d *Dataset) Split(nSteerPerPersona int, seed int64) (steer, test *Dataset, err error) {
	if nSteerPerPersona <= 0 || nSteerPerPersona%2 != 0 {
		return nil, nil, fmt.Errorf("steer observations per persona must be positive and even, got %d", nSteerPerPersona)
	}
	perClass := nSteerPerPersona / 2

	rng := rand.New(rand.NewSource(seed))
	var steerObs, testObs []Observation

	// Persona iteration follows load order, so one rng keeps the whole split
	// deterministic.
	for _, p := range d.personas {
		all := d.observations[p.ID]
		var agree, disagree []int
		for i, o := range all {
			if o.CorrectResponse == Agree {
				agree = append(agree, i)
			} else {
				disagree = append(disagree, i)
			}
		}
		if len(agree) < perClass {
			return nil, nil, &InsufficientDataError{PersonaID: p.ID, Label: Agree, Need: perClass, Have: len(agree)}
		}
		if len(disagree) < perClass {
			return nil, nil, &InsufficientDataError{PersonaID: p.ID, Label: Disagree, Need: perClass, Have: len(disagree)}
		}

		picked := make(map[int]bool, nSteerPerPersona)
		for _, class := range [][]int{agree, disagree} {
			for _, j := range rng.Perm(len(class))[:perClass] {
				picked[class[j]] = true
			}
		}

		// Both partitions keep the dataset's insertion order.
		for i, o := range all {
			if picked[i] {
				steerObs = append(steerObs, o)
			} else {
				testObs = append(testObs, o)
			}
		}
	}

	steer = New(d.personas, steerObs).withProvenance(d)
	test = New(d.personas, testObs).withProvenance(d)
	return steer, test, nil
}
