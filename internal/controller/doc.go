// Package controller reconciles processing blocks against the config store.
//
// A Reconciler computes one cycle over a single configdb transaction:
//
//  1. Launch: every processing block without a state gets a workflow
//     deployment and a STARTING state, or a FAILED state if its workflow
//     cannot be resolved.
//  2. Release: every WAITING block whose dependencies have all FINISHED gets
//     resources_available set.
//  3. Garbage collection: every processing deployment whose block no longer
//     exists is deleted.
//
// The Controller runs cycles in a loop. A cycle whose commit conflicts with
// a concurrent writer is recomputed from a fresh snapshot. After a commit the
// loop blocks until the keys the cycle read change or the next registry
// refresh is due.
//
// # Usage Example
//
//	client := configdb.NewClient(backend)
//	reg := registry.New(source)
//	rec := controller.NewReconciler(reg, controller.DeploymentEnv{
//		ConfigHost:    "etcd.sdp",
//		HelmNamespace: "sdp-processing",
//	})
//	ctrl := controller.New(client, reg, rec, controller.WithRefreshInterval(5*time.Minute))
//	err := ctrl.Run(ctx)
package controller
