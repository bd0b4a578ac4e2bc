// Package dedupe keeps poll cycles from handing the same item downstream
// twice. AcceptOnce is the in-memory, optionally bounded filter every source
// runs its candidates through; SeenStore implementations add durable memory
// across restarts.
package dedupe
