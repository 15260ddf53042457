// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

import (
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// noise returns n random bytes that can never start a frame
func noise(rng *rand.Rand, n int) []byte {
	data := make([]byte, n)
	for i := range data {
		b := byte(rng.Intn(256))
		for b == SlaveID {
			b = byte(rng.Intn(256))
		}
		data[i] = b
	}
	return data
}

// expectedResponse describes one decoder result
type expectedResponse struct {
	function  byte
	value     uint16
	wire      uint16
	exception bool
}

// randomResponse builds a random valid response and what it should decode to
func randomResponse(rng *rand.Rand) ([]byte, expectedResponse) {
	switch rng.Intn(3) {
	case 0:
		v := uint16(rng.Intn(0x10000))
		return buildReadResponse(v), expectedResponse{function: FuncReadHoldingRegister, value: v}
	case 1:
		w := uint16(rng.Intn(0x10000))
		v := uint16(rng.Intn(0x10000))
		return buildWriteResponse(w, v), expectedResponse{function: FuncWriteSingleRegister, wire: w, value: v}
	default:
		fc := byte(FuncReadHoldingRegister)
		if rng.Intn(2) == 1 {
			fc = FuncWriteSingleRegister
		}
		return buildExceptionResponse(fc, byte(rng.Intn(6)+1)), expectedResponse{function: fc, exception: true}
	}
}

// decodeResult is one decoded frame or error
type decodeResult struct {
	frame *Frame
	err   error
}

func drainResults(d *Decoder) []decodeResult {
	var out []decodeResult
	for {
		frame, err := d.Next()
		if frame == nil && err == nil {
			return out
		}
		out = append(out, decodeResult{frame: frame, err: err})
	}
}

func checkResult(t *testing.T, i int, got decodeResult, want expectedResponse) {
	t.Helper()
	if want.exception {
		var ee *ExceptionError
		if !errors.As(got.err, &ee) {
			t.Fatalf("result %d: expected ExceptionError, got frame=%v err=%v", i, got.frame, got.err)
		}
		if ee.Function != want.function {
			t.Fatalf("result %d: exception function 0x%02X, expected 0x%02X", i, ee.Function, want.function)
		}
		return
	}
	if got.err != nil {
		t.Fatalf("result %d: unexpected error %v", i, got.err)
	}
	if got.frame.Function() != want.function {
		t.Fatalf("result %d: function 0x%02X, expected 0x%02X", i, got.frame.Function(), want.function)
	}
	switch want.function {
	case FuncReadHoldingRegister:
		v, ok := got.frame.Value()
		if !ok || v != want.value {
			t.Fatalf("result %d: value %d (ok=%v), expected %d", i, v, ok, want.value)
		}
	case FuncWriteSingleRegister:
		w, v, ok := got.frame.WriteEcho()
		if !ok || w != want.wire || v != want.value {
			t.Fatalf("result %d: echo %d=%d (ok=%v), expected %d=%d", i, w, v, ok, want.wire, want.value)
		}
	}
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

// TestFuzzDecoder_RandomBytes feeds random bytes to the decoder and verifies
// it never panics and never holds more than one frame's worth of bytes
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		length := rng.Intn(512) + 1
		data := make([]byte, length)
		rng.Read(data)

		for len(data) > 0 {
			n := rng.Intn(len(data)) + 1
			d.Write(data[:n])
			data = data[n:]
			drainResults(d)

			if d.Buffered() >= MaxFrameSize {
				t.Fatalf("round %d: %d bytes buffered after drain", i, d.Buffered())
			}
		}
	}
}

// TestFuzzDecoder_FramesInNoise interleaves valid responses with noise and
// checks every response is recovered in order
func TestFuzzDecoder_FramesInNoise(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		var stream []byte
		var want []expectedResponse
		for j := rng.Intn(8) + 1; j > 0; j-- {
			stream = append(stream, noise(rng, rng.Intn(4))...)
			frame, exp := randomResponse(rng)
			stream = append(stream, frame...)
			want = append(want, exp)
		}
		// Trailing noise pushes a final short exception frame out
		stream = append(stream, noise(rng, MinFrameSize+1)...)

		d.Write(stream)
		got := drainResults(d)

		if len(got) != len(want) {
			t.Fatalf("round %d: got %d results, expected %d (stream % X)", i, len(got), len(want), stream)
		}
		for j := range want {
			checkResult(t, j, got[j], want[j])
		}
	}
}

// TestFuzzDecoder_RandomChunking delivers a stream of valid responses in
// random pieces and checks the result matches a single delivery
func TestFuzzDecoder_RandomChunking(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		var stream []byte
		var want []expectedResponse
		for j := rng.Intn(8) + 1; j > 0; j-- {
			frame, exp := randomResponse(rng)
			if exp.exception {
				continue
			}
			stream = append(stream, frame...)
			want = append(want, exp)
		}

		var got []decodeResult
		for data := stream; len(data) > 0; {
			n := rng.Intn(len(data)) + 1
			d.Write(data[:n])
			data = data[n:]
			got = append(got, drainResults(d)...)
		}

		if len(got) != len(want) {
			t.Fatalf("round %d: got %d results, expected %d", i, len(got), len(want))
		}
		for j := range want {
			checkResult(t, j, got[j], want[j])
		}
		if d.Buffered() != 0 {
			t.Fatalf("round %d: %d bytes left buffered", i, d.Buffered())
		}
	}
}

// TestFuzzDecoder_CorruptedFrames flips one byte after the header of random
// responses and verifies each is rejected as a checksum error
func TestFuzzDecoder_CorruptedFrames(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		frame, _ := randomResponse(rng)
		corrupted := append([]byte(nil), frame...)
		pos := rng.Intn(len(corrupted)-3) + 3
		corrupted[pos] ^= byte(rng.Intn(255) + 1)

		d.Write(corrupted)
		d.Write(noise(rng, MinFrameSize+1))
		got := drainResults(d)

		if len(got) != 1 || !IsChecksumError(got[0].err) {
			t.Fatalf("round %d: corrupted frame % X gave %d results, expected one checksum error", i, corrupted, len(got))
		}
	}
}
