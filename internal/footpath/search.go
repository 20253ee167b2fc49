package footpath

import "container/heap"

type pqItem struct {
	node     int
	priority float64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int           { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return pq[i].priority < pq[j].priority }
func (pq priorityQueue) Swap(i, j int)      { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x any) { *pq = append(*pq, x.(pqItem)) }

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// shortest runs Dijkstra from src over adj and returns the settled distances.
// Nodes farther than bound are not settled.
func shortest(adj [][]arc, src int, bound float64) map[int]float64 {
	dist := map[int]float64{src: 0}
	settled := make(map[int]bool)

	pq := &priorityQueue{{node: src}}
	for pq.Len() > 0 {
		item := heap.Pop(pq).(pqItem)
		if settled[item.node] {
			continue
		}
		settled[item.node] = true
		for _, a := range adj[item.node] {
			d := item.priority + a.w
			if d > bound {
				continue
			}
			if old, ok := dist[a.to]; !ok || d < old {
				dist[a.to] = d
				heap.Push(pq, pqItem{node: a.to, priority: d})
			}
		}
	}
	return dist
}
