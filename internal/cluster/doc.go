// Package cluster implements the two unsupervised models of the
// segmentation pipeline: K-Means for customer segments and DBSCAN for
// anomaly detection, plus the parameter tuning for both (elbow and
// silhouette analysis for the cluster count, a grid search over eps and
// minPts for the density model).
//
// Both models operate on scaled feature vectors produced by the rfm
// package and are serializable so the serving layer can classify new
// vectors without refitting.
package cluster
