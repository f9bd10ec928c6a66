// Package seed holds the built-in question bank used when no AI questions are
// available and by the seed command.
package seed

import (
	"fmt"

	"adaptive-quiz-service/internal/domain"
)

// PerDifficulty is the number of seeded questions at each difficulty level.
const PerDifficulty = 5

// Questions returns a fresh copy of the seeded bank, five questions per
// difficulty with stable ids of the form seed-{difficulty}-{n}.
func Questions() []domain.Question {
	out := make([]domain.Question, len(bank))
	for i, q := range bank {
		q.Choices = append([]string(nil), q.Choices...)
		out[i] = q
	}
	return out
}

func q(difficulty, n int, category, prompt string, correct int, choices ...string) domain.Question {
	return domain.Question{
		ID:           fmt.Sprintf("seed-%d-%d", difficulty, n),
		Difficulty:   difficulty,
		Prompt:       prompt,
		Choices:      choices,
		CorrectIndex: correct,
		Category:     category,
	}
}

var bank = []domain.Question{
	// difficulty 1
	q(1, 1, "general", "What color is the sky on a clear day?", 1, "Green", "Blue", "Red", "Yellow"),
	q(1, 2, "general", "How many legs does a dog have?", 1, "2", "4", "6", "8"),
	q(1, 3, "math", "What is 2 + 2?", 1, "3", "4", "5", "6"),
	q(1, 4, "general", "Which animal says \"meow\"?", 2, "Dog", "Cow", "Cat", "Duck"),
	q(1, 5, "general", "What do you use to write on paper?", 1, "Fork", "Pen", "Spoon", "Knife"),

	// difficulty 2
	q(2, 1, "geography", "What is the capital of France?", 2, "London", "Berlin", "Paris", "Madrid"),
	q(2, 2, "geography", "How many continents are there?", 2, "5", "6", "7", "8"),
	q(2, 3, "math", "What is 7 × 8?", 1, "54", "56", "58", "64"),
	q(2, 4, "science", "Which planet is known as the Red Planet?", 1, "Venus", "Mars", "Jupiter", "Saturn"),
	q(2, 5, "geography", "What is the largest ocean on Earth?", 3, "Atlantic", "Indian", "Arctic", "Pacific"),

	// difficulty 3
	q(3, 1, "science", "What is the chemical symbol for gold?", 1, "Ag", "Au", "Fe", "Cu"),
	q(3, 2, "geography", "Which country has the most people?", 1, "USA", "India", "China", "Russia"),
	q(3, 3, "math", "What is the square root of 144?", 2, "10", "11", "12", "14"),
	q(3, 4, "history", "Who painted the Mona Lisa?", 3, "Van Gogh", "Picasso", "Michelangelo", "Leonardo da Vinci"),
	q(3, 5, "science", "What is the speed of light approximately?", 3, "300 km/s", "3,000 km/s", "30,000 km/s", "300,000 km/s"),

	// difficulty 4
	q(4, 1, "science", "What is the powerhouse of the cell?", 2, "Nucleus", "Ribosome", "Mitochondria", "Golgi Body"),
	q(4, 2, "science", "Who developed the theory of relativity?", 1, "Newton", "Einstein", "Bohr", "Hawking"),
	q(4, 3, "math", "What is the value of Pi to 2 decimal places?", 1, "3.12", "3.14", "3.16", "3.18"),
	q(4, 4, "science", "Which element has atomic number 1?", 1, "Helium", "Hydrogen", "Lithium", "Carbon"),
	q(4, 5, "geography", "What is the longest river in the world?", 1, "Amazon", "Nile", "Mississippi", "Yangtze"),

	// difficulty 5
	q(5, 1, "tech", "What is the time complexity of binary search?", 1, "O(n)", "O(log n)", "O(n²)", "O(1)"),
	q(5, 2, "tech", "Who is considered the father of computer science?", 1, "Ada Lovelace", "Alan Turing", "John von Neumann", "Charles Babbage"),
	q(5, 3, "science", "What causes tides on Earth?", 2, "Wind", "Earth rotation", "Moon gravity", "Sun heat"),
	q(5, 4, "math", "What is the smallest prime number greater than 50?", 1, "51", "53", "57", "59"),
	q(5, 5, "tech", "Which sorting algorithm has the best average-case performance?", 1, "Bubble Sort", "Quick Sort", "Selection Sort", "Insertion Sort"),

	// difficulty 6
	q(6, 1, "math", "What is the derivative of x² with respect to x?", 1, "x", "2x", "2x²", "x²/2"),
	q(6, 2, "tech", "Which data structure uses LIFO?", 1, "Queue", "Stack", "Array", "Linked List"),
	q(6, 3, "tech", "What is the CAP theorem in distributed systems?", 1, "Cache, API, Protocol", "Consistency, Availability, Partition Tolerance", "Compute, Analyze, Process", "Create, Access, Persist"),
	q(6, 4, "science", "Which planet has the most moons?", 1, "Jupiter", "Saturn", "Uranus", "Neptune"),
	q(6, 5, "tech", "What does ACID stand for in databases?", 1, "Atomic, Consistent, Isolated, Durable", "Atomicity, Consistency, Isolation, Durability", "Add, Create, Index, Delete", "Access, Control, Insert, Drop"),

	// difficulty 7
	q(7, 1, "tech", "What is the time complexity of Dijkstra's algorithm with a min-heap?", 2, "O(V²)", "O(V + E)", "O((V + E) log V)", "O(V log V)"),
	q(7, 2, "science", "What is the Schrödinger equation primarily used for?", 1, "Electromagnetic fields", "Quantum wave function", "Thermodynamics", "Fluid dynamics"),
	q(7, 3, "tech", "Which consensus algorithm does Bitcoin use?", 1, "Proof of Stake", "Proof of Work", "PBFT", "Raft"),
	q(7, 4, "tech", "What is the halting problem?", 1, "Stopping infinite loops", "Undecidable problem about program termination", "CPU throttling issue", "Memory leak detection"),
	q(7, 5, "science", "What is CRISPR primarily used for?", 1, "Data encryption", "Gene editing", "Quantum computing", "Neural networks"),

	// difficulty 8
	q(8, 1, "tech", "What is the space complexity of merge sort?", 2, "O(1)", "O(log n)", "O(n)", "O(n log n)"),
	q(8, 2, "tech", "What is eventual consistency in distributed systems?", 1, "All reads return latest write", "System converges to consistent state over time", "Transactions are serializable", "Writes are linearizable"),
	q(8, 3, "tech", "What is the Church-Turing thesis?", 1, "All algorithms are polynomial", "Turing machines capture computability", "P equals NP", "Halting problem is decidable"),
	q(8, 4, "math", "What is a Galois field?", 1, "Infinite vector space", "Finite field", "Topological space", "Metric space"),
	q(8, 5, "tech", "What is the Paxos algorithm used for?", 2, "Sorting", "Encryption", "Distributed consensus", "Load balancing"),

	// difficulty 9
	q(9, 1, "tech", "What is the Curry-Howard isomorphism?", 0, "Types as propositions, programs as proofs", "Functions as objects, objects as functions", "Data as code, code as data", "Inputs as outputs, outputs as inputs"),
	q(9, 2, "tech", "What is the Kolmogorov complexity of a string?", 1, "Its length", "Shortest program that produces it", "Number of unique characters", "Compression ratio"),
	q(9, 3, "science", "What is a topological quantum computer based on?", 1, "Qubits", "Anyons", "Photons", "Electrons"),
	q(9, 4, "tech", "What is the Cook-Levin theorem?", 0, "SAT is NP-complete", "P ≠ NP", "BPP ⊆ P", "Every NP problem is decidable"),
	q(9, 5, "science", "What is the AdS/CFT correspondence?", 0, "Anti-de Sitter space maps to conformal field theory", "Quantum gravity equals string theory", "Dark energy relates to dark matter", "Entropy equals information"),

	// difficulty 10
	q(10, 1, "math", "What is the Navier-Stokes existence and smoothness problem?", 0, "Proving solutions always exist and are smooth", "Solving turbulent flow equations", "Computing fluid viscosity", "Modeling ocean currents"),
	q(10, 2, "tech", "What is the computational complexity of matrix multiplication (best known)?", 1, "O(n³)", "O(n^2.373)", "O(n² log n)", "O(n²)"),
	q(10, 3, "math", "What is the Hodge conjecture about?", 0, "Algebraic cycles on algebraic varieties", "Topology of manifolds", "Number theory primes", "Graph coloring"),
	q(10, 4, "science", "What is the ER=EPR conjecture?", 0, "Wormholes equal entanglement", "Energy equals mass", "Entropy equals radiation", "Expansion equals recession"),
	q(10, 5, "math", "What is homotopy type theory?", 0, "Foundation of math combining type theory and homotopy", "Algorithm for path finding", "Graph theory extension", "Database normalization theory"),
}
