// Package cancel implements owner-keyed cooperative cancellation flags.
//
// Workers poll IsCanceled at chapter and page checkpoints; front ends call
// RequestCancel. Registry keeps flags in process memory. RedisRegistry stores
// them in Redis so a front end running in another process can cancel.
package cancel
