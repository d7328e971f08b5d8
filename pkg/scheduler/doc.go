/*
Package scheduler places new instances on workers.

Placement is deliberately primitive: ask every worker for its one-minute load
average, drop the ones that did not answer, take the smallest. There is no
capacity model and no admission control; every start re-evaluates from
scratch, and a worker that went quiet simply stops receiving instances.
*/
package scheduler
