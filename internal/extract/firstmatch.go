package extract

// FirstMatch tries candidates in order and returns the first result try
// accepts, together with the candidate that produced it. ok is false when
// no candidate matched.
func FirstMatch[C, R any](candidates []C, try func(C) (R, bool)) (result R, winner C, ok bool) {
	for _, c := range candidates {
		if r, matched := try(c); matched {
			return r, c, true
		}
	}
	return result, winner, false
}
