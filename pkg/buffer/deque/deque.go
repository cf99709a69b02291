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

// Package deque implements a double-ended queue of byte chunks with a
// coalescing Gather operation, the working buffer behind the stream's
// read and write paths.
package deque

import (
	bsPool "github.com/panjf2000/wind/pkg/pool/byteslice"
)

type node struct {
	buf  []byte
	prev *node
	next *node
}

func (b *node) len() int {
	return len(b.buf)
}

// Deque is a doubly linked list of byte chunks keeping a running total
// of buffered bytes.
type Deque struct {
	head  *node
	tail  *node
	size  int
	bytes int
}

// PushFront copies p into a pooled chunk and prepends it.
func (q *Deque) PushFront(p []byte) {
	n := len(p)
	if n == 0 {
		return
	}
	b := bsPool.Get(n)
	copy(b, p)
	q.pushFront(&node{buf: b})
}

// PushBack copies p into a pooled chunk and appends it.
func (q *Deque) PushBack(p []byte) {
	n := len(p)
	if n == 0 {
		return
	}
	b := bsPool.Get(n)
	copy(b, p)
	q.pushBack(&node{buf: b})
}

// PushBackNoCopy appends p as a chunk without copying, the deque takes
// ownership of p which must come from the byteslice pool.
func (q *Deque) PushBackNoCopy(p []byte) {
	if len(p) == 0 {
		bsPool.Put(p)
		return
	}
	q.pushBack(&node{buf: p})
}

// Gather coalesces chunks from the front until the first chunk holds
// exactly k bytes, splitting the boundary chunk when it straddles the
// target. A k beyond the buffered total joins every chunk into one.
func (q *Deque) Gather(k int) {
	if k <= 0 || q.head == nil {
		return
	}
	if k > q.bytes {
		k = q.bytes
	}
	if q.head.len() == k {
		return
	}
	merged := bsPool.Get(k)
	off := 0
	for off < k {
		b := q.pop()
		n := copy(merged[off:], b.buf)
		off += n
		if n < b.len() {
			b.buf = b.buf[n:]
			q.pushFront(b)
		} else {
			bsPool.Put(b.buf)
		}
	}
	q.pushFront(&node{buf: merged})
}

// GatherRight is the mirror of Gather, coalescing from the back so that
// the last chunk holds exactly k bytes.
func (q *Deque) GatherRight(k int) {
	if k <= 0 || q.tail == nil {
		return
	}
	if k > q.bytes {
		k = q.bytes
	}
	if q.tail.len() == k {
		return
	}
	merged := bsPool.Get(k)
	off := k
	for off > 0 {
		b := q.popBack()
		cut := b.len()
		if cut > off {
			cut = off
		}
		copy(merged[off-cut:], b.buf[b.len()-cut:])
		off -= cut
		if cut < b.len() {
			b.buf = b.buf[:b.len()-cut]
			q.pushBack(b)
		} else {
			bsPool.Put(b.buf)
		}
	}
	q.pushBack(&node{buf: merged})
}

// Throw gathers k bytes at the front and pops them as a single chunk.
// The caller takes ownership of the returned slice.
func (q *Deque) Throw(k int) []byte {
	q.Gather(k)
	b := q.pop()
	if b == nil {
		return nil
	}
	return b.buf
}

// ThrowRight gathers k bytes at the back and pops them as a single chunk.
func (q *Deque) ThrowRight(k int) []byte {
	q.GatherRight(k)
	b := q.popBack()
	if b == nil {
		return nil
	}
	return b.buf
}

// Front returns the first chunk without removing it.
func (q *Deque) Front() []byte {
	if q.head == nil {
		return nil
	}
	return q.head.buf
}

// Discard drops n bytes off the front.
func (q *Deque) Discard(n int) (discarded int) {
	for n > 0 {
		b := q.pop()
		if b == nil {
			break
		}
		if n < b.len() {
			b.buf = b.buf[n:]
			discarded += n
			q.pushFront(b)
			break
		}
		n -= b.len()
		discarded += b.len()
		bsPool.Put(b.buf)
	}
	return
}

// Len returns the number of chunks.
func (q *Deque) Len() int {
	return q.size
}

// Buffered returns the total number of buffered bytes.
func (q *Deque) Buffered() int {
	return q.bytes
}

// IsEmpty reports whether the deque holds no chunks.
func (q *Deque) IsEmpty() bool {
	return q.head == nil
}

// Reset drops all chunks and hands their storage back to the pool.
func (q *Deque) Reset() {
	for b := q.pop(); b != nil; b = q.pop() {
		bsPool.Put(b.buf)
	}
	q.head = nil
	q.tail = nil
	q.size = 0
	q.bytes = 0
}

func (q *Deque) pop() *node {
	if q.head == nil {
		return nil
	}
	b := q.head
	q.head = b.next
	if q.head == nil {
		q.tail = nil
	} else {
		q.head.prev = nil
	}
	b.next = nil
	q.size--
	q.bytes -= b.len()
	return b
}

func (q *Deque) popBack() *node {
	if q.tail == nil {
		return nil
	}
	b := q.tail
	q.tail = b.prev
	if q.tail == nil {
		q.head = nil
	} else {
		q.tail.next = nil
	}
	b.prev = nil
	q.size--
	q.bytes -= b.len()
	return b
}

func (q *Deque) pushFront(b *node) {
	if b == nil {
		return
	}
	b.prev = nil
	b.next = q.head
	if q.head == nil {
		q.tail = b
	} else {
		q.head.prev = b
	}
	q.head = b
	q.size++
	q.bytes += b.len()
}

func (q *Deque) pushBack(b *node) {
	if b == nil {
		return
	}
	b.next = nil
	b.prev = q.tail
	if q.tail == nil {
		q.head = b
	} else {
		q.tail.next = b
	}
	q.tail = b
	q.size++
	q.bytes += b.len()
}
