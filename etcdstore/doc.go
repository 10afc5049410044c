// Package etcdstore provides a node tree backed by an etcd cluster.
//
// Every node is stored as one JSON document under <namespace>/node<path>,
// carrying its identifier, primary type, mixins, properties and the ordered
// list of child names. A second key space <namespace>/id/<uuid> maps
// identifiers back to paths so reference lookups stay a single Get.
//
// Writes go to the cluster as they happen; Session.Save is a no-op and all
// sessions observe each other's changes immediately. The backend has no
// version storage: Session.VersionManager returns ErrVersioningUnsupported
// and nodes refuse the versionable mixin, so mapped types that declare it
// are stored without version history.
//
//	st, err := etcdstore.Open(etcdstore.Options{
//		Endpoints: []string{"localhost:2379"},
//		Namespace: "content",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer st.Close()
//	sess, _ := st.Session()
package etcdstore
