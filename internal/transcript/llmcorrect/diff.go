package llmcorrect

import "strings"

// hunk is a run of tokens that differs between the original and the
// model's rewrite.
type hunk struct {
	orig, corr []string
}

// alignment walks both token sequences in step. Each element is either a
// shared token (same=true) or a hunk.
type alignment struct {
	same  bool
	token string
	hunk  hunk
}

// align computes a token-level LCS alignment of a and b.
func align(a, b []string) []alignment {
	m, n := len(a), len(b)
	// dp[i][j] = LCS length of a[i:] and b[j:].
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else {
				dp[i][j] = max(dp[i+1][j], dp[i][j+1])
			}
		}
	}

	var (
		out  []alignment
		cur  hunk
		i, j int
	)
	flush := func() {
		if len(cur.orig) > 0 || len(cur.corr) > 0 {
			out = append(out, alignment{hunk: cur})
			cur = hunk{}
		}
	}
	for i < m && j < n {
		switch {
		case a[i] == b[j]:
			flush()
			out = append(out, alignment{same: true, token: a[i]})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			cur.orig = append(cur.orig, a[i])
			i++
		default:
			cur.corr = append(cur.corr, b[j])
			j++
		}
	}
	cur.orig = append(cur.orig, a[i:]...)
	cur.corr = append(cur.corr, b[j:]...)
	flush()
	return out
}

// normalize lowercases s and trims punctuation so "Loky." matches a
// declared "loky".
func normalize(s string) string {
	return strings.ToLower(strings.Trim(s, ".,;:!?\"'()"))
}

// applyDeclared keeps only the hunks of corrected that match a declared
// correction and reverts everything else to original.
func applyDeclared(original, corrected string, declared []Correction) (string, []Correction) {
	if original == corrected {
		return original, nil
	}
	type key struct{ orig, corr string }
	lookup := make(map[key]Correction, len(declared))
	for _, c := range declared {
		lookup[key{normalize(c.Original), normalize(c.Corrected)}] = c
	}

	var (
		out  []string
		kept []Correction
	)
	for _, al := range align(strings.Fields(original), strings.Fields(corrected)) {
		if al.same {
			out = append(out, al.token)
			continue
		}
		k := key{normalize(strings.Join(al.hunk.orig, " ")), normalize(strings.Join(al.hunk.corr, " "))}
		if c, ok := lookup[k]; ok {
			out = append(out, al.hunk.corr...)
			kept = append(kept, c)
		} else {
			out = append(out, al.hunk.orig...)
		}
	}
	return strings.Join(out, " "), kept
}
