// Package actoridx maintains secondary indexes over actor-like entities.
//
// Entities are independently activated objects with persisted state. Each
// entity type declares indexes over its state; clients then look entities
// up by indexed value instead of by key.
//
// # Quick Start
//
//	ctx := context.Background()
//	sys, _ := actoridx.Open(ctx, blobstore.NewMemoryStore())
//	defer sys.Close(ctx)
//
//	players, _ := actoridx.Register(sys, actoridx.EntityConfig[Player]{
//	    Name:          "player",
//	    FaultTolerant: true,
//	    Indexes: []actoridx.IndexConfig[Player]{
//	        {Interface: "IPlayer", Name: "email", Unique: true, Extract: func(p *Player) any { return p.Email }},
//	        {Interface: "IPlayer", Name: "city", Extract: func(p *Player) any { return p.City }},
//	    },
//	})
//
//	p, _ := players.Get(ctx, "alice")
//	_ = p.Update(ctx, func(s *Player) error {
//	    s.Email, s.City = "alice@example.com", "Seattle"
//	    return nil
//	})
//	_ = sys.Flush(ctx)
//	refs, _ := players.Lookup(ctx, "city", "Seattle")
//
// # Eager and Lazy Indexes
//
// Eager indexes are updated before a write returns. Lazy indexes are
// updated by background queue passes: a write appends a workflow record to
// the queue of its interface and returns once the record is durable.
//
// Unique indexes are always checked during the write, so a violation fails
// Update with ErrUniquenessConstraintViolated and leaves the entity
// unchanged.
//
// # Fault Tolerance
//
// Fault-tolerant entity types persist the IDs of their queued records
// before their state and forget them once a queue pass confirmed them. When
// a node fails, its entities reactivate elsewhere and move records still
// waiting in the failed node's queues to a live queue; records whose write
// never completed are undone.
//
//	sys.CrashNode("node-0")
//	sys.PlaceOn("node-1")
//	_ = sys.RecoverNode(ctx, "node-0")
//
// # Storage
//
// All state lives in a blobstore.BlobStore: memory, local directory, S3,
// MinIO, DynamoDB, bbolt or SQLite.
package actoridx
