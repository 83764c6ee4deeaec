// Package simhash fingerprints the DOM structure of the signing page so
// health checks can tell when the target site swapped the page out from
// under a worker (bot-wall interstitial, captcha, redesign). Only tag
// names matter; text, attributes and script bodies are ignored, so
// ordinary content churn does not move the fingerprint.
package simhash

import (
	"hash/fnv"
	"math/bits"
	"strings"

	"golang.org/x/net/html"
)

// shingleSize is the tag n-gram width. Three tags is enough context to
// distinguish layouts without making every minor widget change a drift.
const shingleSize = 3

// FingerprintPage computes a 64-bit SimHash of the page's tag structure.
// Pages with no tags (empty or plain text) fingerprint to 0.
func FingerprintPage(htmlStr string) uint64 {
	tags := tagSequence(htmlStr)
	if len(tags) == 0 {
		return 0
	}

	var vector [64]int
	if len(tags) < shingleSize {
		// Too short for shingles; hash the bare tag sequence.
		accumulate(&vector, strings.Join(tags, "_"))
	} else {
		for i := 0; i+shingleSize <= len(tags); i++ {
			accumulate(&vector, strings.Join(tags[i:i+shingleSize], "_"))
		}
	}

	var fp uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// accumulate hashes one shingle with FNV-64a and folds it into the bit vector.
func accumulate(vector *[64]int, shingle string) {
	h := fnv.New64a()
	h.Write([]byte(shingle))
	sum := h.Sum64()

	for i := 0; i < 64; i++ {
		if sum&(1<<uint(i)) != 0 {
			vector[i]++
		} else {
			vector[i]--
		}
	}
}

// tagSequence walks the HTML with the tokenizer and collects open tag
// names in document order.
func tagSequence(htmlStr string) []string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	var tags []string

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return tags
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := tokenizer.TagName()
			tags = append(tags, string(tn))
		}
	}
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Drifted reports whether two fingerprints differ by more than threshold
// bits. A zero baseline (no capture yet) never counts as drift.
func Drifted(baseline, current uint64, threshold int) bool {
	if baseline == 0 {
		return false
	}
	return Distance(baseline, current) > threshold
}
