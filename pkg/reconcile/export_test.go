package reconcile

var CreateID = createID
