package common

import "time"

const BLOCK_SIZE = 16 * 1024

const RPC_TIMEOUT = 1000 * time.Millisecond

// Registration handshake with the namenode
const REGISTER_ATTEMPTS = 10
const REGISTER_BACKOFF = 200 * time.Millisecond
const REGISTER_MAX_BACKOFF = 5 * time.Second

// Upper bound of a single frame, guards allocations on the receive path
const MAX_FRAME_SIZE = 64 * 1024 * 1024

const PENDING_STORE_TTL = 10 * time.Minute
const BLOCK_CACHE_TTL = 1 * time.Minute

// Number of block transfers a client keeps in flight during a fetch
const MAX_PARALLEL_TRANSFERS = 8

const DEFAULT_NAMENODE_PORT = 8000

// A server drops a connection whose exchange has not finished by then
const CONN_IDLE_TIMEOUT = 30 * time.Second
