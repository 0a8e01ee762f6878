// Package registry keeps the local subscriptions of a multiplexed client.
//
// Each subscription is an Entry keyed by (local ID, channel). The registry
// holds a non-owning liveness handle for every subscriber; an entry whose
// subscriber is gone is pruned the next time it is looked at instead of being
// delivered to.
//
// Listen and ignore requests are sent asynchronously by a single worker in
// FIFO order, so a listen is always sent before the ignore for the same key.
// After every successful (re)connect, ReplayAll sends one fresh listen
// request per live entry. Entries that already sent a listen on the current
// connection are skipped, so a subscription racing with replay is announced
// once.
package registry
