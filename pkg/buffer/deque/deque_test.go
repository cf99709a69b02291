// Copyright (c) 2023 Andy Pan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package deque

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeque_Gather(t *testing.T) {
	var q Deque
	for _, chunk := range []string{"y", "-", "combinator", "..."} {
		q.PushBack([]byte(chunk))
	}
	require.EqualValues(t, 4, q.Len())
	require.EqualValues(t, 15, q.Buffered())

	q.Gather(12)
	require.EqualValues(t, 2, q.Len())
	require.EqualValues(t, 15, q.Buffered())
	require.Equal(t, []byte("y-combinator"), q.Front())

	q.Gather(13)
	require.EqualValues(t, 2, q.Len())
	require.Equal(t, []byte("y-combinator."), q.Front())

	// A target beyond the buffered total joins everything.
	q.Gather(30)
	require.EqualValues(t, 1, q.Len())
	require.Equal(t, []byte("y-combinator..."), q.Front())
}

func TestDeque_GatherSplitsBoundaryChunk(t *testing.T) {
	var q Deque
	q.PushBack([]byte("hello"))
	q.PushBack([]byte("world"))

	q.Gather(7)
	require.Equal(t, []byte("hellowo"), q.Front())
	require.EqualValues(t, 10, q.Buffered())
	require.Equal(t, []byte("rld"), q.Throw(10)[7:])
}

func TestDeque_GatherPreservesBytes(t *testing.T) {
	rand.Seed(time.Now().UnixNano())
	for trial := 0; trial < 50; trial++ {
		var (
			q   Deque
			ref bytes.Buffer
		)
		blocks := rand.Intn(10) + 1
		for i := 0; i < blocks; i++ {
			data := make([]byte, rand.Intn(64)+1)
			rand.Read(data)
			q.PushBack(data)
			ref.Write(data)
		}
		k := rand.Intn(ref.Len()) + 1

		q.Gather(k)
		require.EqualValues(t, ref.Len(), q.Buffered())
		head := q.Throw(k)
		require.Equal(t, ref.Bytes()[:k], head)
		rest := q.Throw(q.Buffered())
		require.Equal(t, ref.Bytes()[k:], rest)
	}
}

func TestDeque_GatherRight(t *testing.T) {
	var q Deque
	for _, chunk := range []string{"y", "-", "combinator", "..."} {
		q.PushBack([]byte(chunk))
	}

	q.GatherRight(4)
	require.EqualValues(t, 4, q.Len())
	require.EqualValues(t, 15, q.Buffered())
	require.Equal(t, []byte("r..."), q.ThrowRight(4))
	require.Equal(t, []byte("y-combinato"), q.Throw(11))
	require.True(t, q.IsEmpty())
}

func TestDeque_PushFront(t *testing.T) {
	var q Deque
	q.PushBack([]byte("world"))
	q.PushFront([]byte("hello "))
	require.Equal(t, []byte("hello world"), q.Throw(11))
}

func TestDeque_Discard(t *testing.T) {
	var q Deque
	q.PushBack([]byte("abc"))
	q.PushBack([]byte("defg"))

	require.EqualValues(t, 5, q.Discard(5))
	require.EqualValues(t, 2, q.Buffered())
	require.Equal(t, []byte("fg"), q.Front())

	require.EqualValues(t, 2, q.Discard(100))
	require.True(t, q.IsEmpty())
	require.Zero(t, q.Discard(1))
}

func TestDeque_Reset(t *testing.T) {
	var q Deque
	q.PushBack([]byte("data"))
	q.Reset()
	require.True(t, q.IsEmpty())
	require.Zero(t, q.Buffered())
	require.Zero(t, q.Len())
	require.Nil(t, q.Front())
}
