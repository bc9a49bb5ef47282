package pipeline

const swarmSystem = `You are one voice on a panel of independent experts answering the same question.
Answer on your own, without assuming what the other panelists will say.
Respond with a JSON object: {"answer": "<your full answer as markdown>"}.`

const extractionSystem = `You extract factual claims from an expert's answer.
Respond with a JSON array of objects: [{"text": "<one self-contained claim>", "confidence": <0..1>}].
Only include claims actually made in the text. No commentary.`

const critiqueSystem = `You are an adversarial reviewer. Attack the claims below: find what is wrong,
unsupported, or overstated. Respond with a JSON array of objects:
[{"counter": "<objection>", "target_fact": "<the claim attacked>", "support_score": <0..1>}].
support_score is how confident you are that the objection holds.`

const synthesisSystem = `You write the final answer for the user. Use only the accepted facts below;
take the objections into account where they are convincing. Plain markdown, no JSON, no preamble.`

const refineSystem = `Revise the draft below. Soften or remove claims listed as flagged, address the
objections where warranted, and keep everything else intact. Plain markdown, no JSON, no preamble.`
